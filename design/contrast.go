// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package design

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/mat"
)

// Contrast is a named linear combination of design coefficients.
type Contrast struct {
	Name string
	Coef map[string]float64
}

// ParseContrast parses an expression like "diseaseAD - diseaseControl"
// or "0.5*groupA + 0.5*groupB - groupC". Each term is an optional
// sign, an optional numeric multiplier followed by "*", and a column
// name; a column name may also be followed by "/number".
func ParseContrast(name, expr string) (Contrast, error) {
	c := Contrast{Name: name, Coef: map[string]float64{}}
	if name == "" {
		c.Name = strings.Join(strings.Fields(expr), "")
	}
	s := strings.TrimSpace(expr)
	if s == "" {
		return c, fmt.Errorf("contrast %q: empty expression", name)
	}
	sign := 1.0
	expectTerm := true
	for len(s) > 0 {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			break
		}
		if s[0] == '+' || s[0] == '-' {
			if s[0] == '-' {
				sign = -sign
			}
			s = s[1:]
			expectTerm = true
			continue
		}
		if !expectTerm {
			return c, fmt.Errorf("contrast %q: expected + or - before %q", name, s)
		}
		end := strings.IndexAny(s, "+-")
		// don't split on the sign of an exponent, e.g. 1e-3*x
		for end > 0 && (s[end-1] == 'e' || s[end-1] == 'E') && isNumber(strings.TrimSpace(s[:end-1])) {
			next := strings.IndexAny(s[end+1:], "+-")
			if next < 0 {
				end = -1
			} else {
				end = end + 1 + next
			}
		}
		term := s
		if end >= 0 {
			term, s = s[:end], s[end:]
		} else {
			s = ""
		}
		col, mult, err := parseTerm(strings.TrimSpace(term))
		if err != nil {
			return c, fmt.Errorf("contrast %q: %w", name, err)
		}
		c.Coef[col] += sign * mult
		sign = 1
		expectTerm = false
	}
	if expectTerm {
		return c, fmt.Errorf("contrast %q: expression ends with an operator", name)
	}
	return c, nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func parseTerm(term string) (string, float64, error) {
	mult := 1.0
	if i := strings.Index(term, "*"); i >= 0 {
		f, err := strconv.ParseFloat(strings.TrimSpace(term[:i]), 64)
		if err != nil {
			return "", 0, fmt.Errorf("bad multiplier in %q", term)
		}
		mult = f
		term = strings.TrimSpace(term[i+1:])
	}
	if i := strings.Index(term, "/"); i >= 0 {
		f, err := strconv.ParseFloat(strings.TrimSpace(term[i+1:]), 64)
		if err != nil || f == 0 {
			return "", 0, fmt.Errorf("bad divisor in %q", term)
		}
		mult /= f
		term = strings.TrimSpace(term[:i])
	}
	if term == "" || strings.ContainsAny(term, " *()") {
		return "", 0, fmt.Errorf("bad column name %q", term)
	}
	return term, mult, nil
}

func (c Contrast) String() string {
	return fmt.Sprintf("%s=%v", c.Name, c.Coef)
}

// ContrastMatrix returns the coefficients x contrasts matrix for cs.
// Every referenced column must exist, every contrast must be nonzero,
// and every contrast must be estimable under m (in the row space of
// the design).
func (m *Matrix) ContrastMatrix(cs []Contrast) (*mat.Dense, error) {
	_, p := m.X.Dims()
	cm := mat.NewDense(p, len(cs), nil)
	for k, c := range cs {
		nonzero := false
		for name, v := range c.Coef {
			j := m.ColumnIndex(name)
			if j < 0 {
				return nil, fmt.Errorf("contrast %q refers to %q, which is not a design column (have %q)", c.Name, name, m.Columns)
			}
			cm.Set(j, k, v)
			if v != 0 {
				nonzero = true
			}
		}
		if !nonzero {
			return nil, fmt.Errorf("contrast %q has all-zero coefficients", c.Name)
		}
		if err := CheckEstimable(m.X, mat.Col(nil, k, cm)); err != nil {
			return nil, fmt.Errorf("contrast %q: %w", c.Name, err)
		}
	}
	return cm, nil
}

// CheckEstimable returns ErrNotEstimable unless c lies in the row
// space of x, i.e., c'beta has the same value for every least-squares
// solution beta.
func CheckEstimable(x mat.Matrix, c []float64) error {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThinV) {
		return fmt.Errorf("%w: SVD failed", ErrNotEstimable)
	}
	vals := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)
	r, cols := x.Dims()
	tol := float64(max(r, cols)) * vals[0] * 1e-12
	cv := mat.NewVecDense(len(c), append([]float64(nil), c...))
	proj := mat.NewVecDense(len(c), nil)
	for k, s := range vals {
		if s <= tol {
			continue
		}
		vk := v.ColView(k)
		proj.AddScaledVec(proj, mat.Dot(vk, cv), vk)
	}
	var diff mat.VecDense
	diff.SubVec(cv, proj)
	if mat.Norm(&diff, 2) > 1e-8*math.Max(1, mat.Norm(cv, 2)) {
		return ErrNotEstimable
	}
	return nil
}
