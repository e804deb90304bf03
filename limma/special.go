// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package limma

import "math"

// trigamma returns the derivative of the digamma function.
func trigamma(x float64) float64 {
	if math.IsNaN(x) || x <= 0 && x == math.Floor(x) {
		return math.NaN()
	}
	acc := 0.0
	for x < 10 {
		acc += 1 / (x * x)
		x++
	}
	x2 := 1 / (x * x)
	return acc + 1/x + x2/2 + x2/x*(1.0/6-x2*(1.0/30-x2*(1.0/42-x2*(1.0/30-x2*5/66))))
}

// tetragamma returns the second derivative of the digamma function.
func tetragamma(x float64) float64 {
	if math.IsNaN(x) || x <= 0 && x == math.Floor(x) {
		return math.NaN()
	}
	acc := 0.0
	for x < 10 {
		acc -= 2 / (x * x * x)
		x++
	}
	x2 := 1 / (x * x)
	return acc - x2 - x2/x - x2*x2*(0.5-x2*(1.0/6-x2*(1.0/6-x2*(3.0/10-x2*5/6))))
}

// trigammaInverse solves trigamma(y) = x for y by Newton iteration.
func trigammaInverse(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return math.NaN()
	case x > 1e7:
		return 1 / math.Sqrt(x)
	case x < 1e-6:
		return 1 / x
	}
	y := 0.5 + 1/x
	for iter := 0; iter < 50; iter++ {
		tri := trigamma(y)
		dif := tri * (1 - tri/x) / tetragamma(y)
		y += dif
		if -dif/y < 1e-8 {
			break
		}
	}
	return y
}
