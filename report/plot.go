// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package report renders analysis results as plots, TSV tables and
// an HTML summary.
package report

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/arvados/bioassoc/expr"
	"github.com/arvados/bioassoc/haplo"
	"github.com/arvados/bioassoc/limma"
	"github.com/arvados/bioassoc/prs"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	grey = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	red  = color.RGBA{R: 200, G: 30, B: 30, A: 255}
)

// Save writes p to path; the format is taken from the extension
// (.png, .svg, .pdf, ...).
func Save(p *plot.Plot, path string) error {
	err := p.Save(7*vg.Inch, 5*vg.Inch, path)
	if err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	log.WithFields(log.Fields{"path": path, "title": p.Title.Text}).Info("wrote plot")
	return nil
}

// DensityPlot overlays the kernel density of each sample's values.
func DensityPlot(m *expr.Matrix, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "value"
	p.Y.Label.Text = "density"
	for j, sample := range m.Samples {
		xs, ys := expr.Density(m.Col(j), 512, 1)
		if xs == nil {
			log.Warnf("density plot: sample %s has no observed values", sample)
			continue
		}
		xys := make(plotter.XYs, len(xs))
		for i := range xs {
			xys[i] = plotter.XY{X: xs[i], Y: ys[i]}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(j)
		p.Add(line)
		if len(m.Samples) <= 12 {
			p.Legend.Add(sample, line)
		}
	}
	p.Legend.Top = true
	return p, nil
}

// Volcano plots logFC against -log10(P.Value); features with adjusted
// p-value below alpha and |logFC| >= lfc are highlighted.
func Volcano(rows []limma.Row, alpha, lfc float64, title string) (*plot.Plot, error) {
	maxY := 0.0
	for _, r := range rows {
		if r.P > 0 && !math.IsNaN(r.P) {
			maxY = math.Max(maxY, -math.Log10(r.P))
		}
	}
	var other, sig plotter.XYs
	for _, r := range rows {
		if math.IsNaN(r.P) || math.IsNaN(r.LogFC) {
			continue
		}
		y := maxY + 1
		if r.P > 0 {
			y = -math.Log10(r.P)
		}
		pt := plotter.XY{X: r.LogFC, Y: y}
		if r.AdjP < alpha && math.Abs(r.LogFC) >= lfc {
			sig = append(sig, pt)
		} else {
			other = append(other, pt)
		}
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "log2 fold change"
	p.Y.Label.Text = "-log10(P.Value)"
	for _, set := range []struct {
		xys   plotter.XYs
		color color.Color
		name  string
	}{
		{other, grey, "not significant"},
		{sig, red, fmt.Sprintf("adj.P.Val < %g", alpha)},
	} {
		if len(set.xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(set.xys)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle = draw.GlyphStyle{Color: set.color, Radius: vg.Points(1.5), Shape: draw.CircleGlyph{}}
		p.Add(sc)
		p.Legend.Add(set.name, sc)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

// vennFill holds translucent fills for up to three circles.
var vennFill = []color.Color{
	color.NRGBA{R: 220, G: 60, B: 60, A: 70},
	color.NRGBA{R: 60, G: 90, B: 220, A: 70},
	color.NRGBA{R: 60, G: 180, B: 80, A: 70},
}

// Venn draws the counts returned by limma.VennCounts for up to three
// contrasts. counts[k] is the number of features significant in
// exactly the contrasts whose bits are set in k.
func Venn(names []string, counts []int, title string) (*plot.Plot, error) {
	n := len(names)
	if n < 1 || n > 3 {
		return nil, fmt.Errorf("venn diagram needs 1 to 3 sets, got %d", n)
	}
	if len(counts) != 1<<n {
		return nil, fmt.Errorf("venn diagram of %d sets needs %d counts, got %d", n, 1<<n, len(counts))
	}
	centers := [][]plotter.XY{
		{{X: 0, Y: 0}},
		{{X: -0.6, Y: 0}, {X: 0.6, Y: 0}},
		{{X: -0.6, Y: 0.35}, {X: 0.6, Y: 0.35}, {X: 0, Y: -0.65}},
	}[n-1]
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()
	for k, c := range centers {
		ring := make(plotter.XYs, 120)
		for i := range ring {
			a := 2 * math.Pi * float64(i) / float64(len(ring))
			ring[i] = plotter.XY{X: c.X + math.Cos(a), Y: c.Y + math.Sin(a)}
		}
		poly, err := plotter.NewPolygon(ring)
		if err != nil {
			return nil, err
		}
		poly.Color = vennFill[k]
		p.Add(poly)
	}
	var lbl plotter.XYLabels
	for k, c := range centers {
		// set names sit outside their circle, away from the
		// diagram center
		dx, dy := c.X, c.Y
		if dx == 0 && dy == 0 {
			dy = 1
		}
		norm := math.Hypot(dx, dy)
		lbl.XYs = append(lbl.XYs, plotter.XY{X: c.X + 1.15*dx/norm, Y: c.Y + 1.15*dy/norm})
		lbl.Labels = append(lbl.Labels, names[k])
	}
	for mask := 1; mask < 1<<n; mask++ {
		var in, out plotter.XY
		nin, nout := 0, 0
		for k, c := range centers {
			if mask&(1<<k) != 0 {
				in.X += c.X
				in.Y += c.Y
				nin++
			} else {
				out.X += c.X
				out.Y += c.Y
				nout++
			}
		}
		pos := plotter.XY{X: in.X / float64(nin), Y: in.Y / float64(nin)}
		if nout > 0 {
			out.X /= float64(nout)
			out.Y /= float64(nout)
			pos.X += 0.5 * (pos.X - out.X)
			pos.Y += 0.5 * (pos.Y - out.Y)
		}
		lbl.XYs = append(lbl.XYs, pos)
		lbl.Labels = append(lbl.Labels, fmt.Sprint(counts[mask]))
	}
	lbl.XYs = append(lbl.XYs, plotter.XY{X: 1.5, Y: -1.6})
	lbl.Labels = append(lbl.Labels, fmt.Sprintf("none: %d", counts[0]))
	labels, err := plotter.NewLabels(lbl)
	if err != nil {
		return nil, err
	}
	p.Add(labels)
	p.X.Min, p.X.Max = -2, 2
	p.Y.Min, p.Y.Max = -2, 2
	return p, nil
}

// ROCPlot draws the ROC curve with the chance diagonal.
func ROCPlot(roc prs.ROC, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (AUC %.3f)", title, roc.AUC)
	p.X.Label.Text = "false positive rate"
	p.Y.Label.Text = "true positive rate"
	xys := make(plotter.XYs, len(roc.FPR))
	for i := range xys {
		xys[i] = plotter.XY{X: roc.FPR[i], Y: roc.TPR[i]}
	}
	curve, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	curve.Color = red
	curve.Width = vg.Points(1.5)
	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return nil, err
	}
	diag.Color = grey
	diag.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(diag, curve)
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	return p, nil
}

// ldGrid adapts a pairwise LD matrix to plotter.GridXYZ.
type ldGrid struct {
	m interface {
		At(i, j int) float64
		SymmetricDim() int
	}
}

func (g ldGrid) Dims() (c, r int)   { n := g.m.SymmetricDim(); return n, n }
func (g ldGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g ldGrid) X(c int) float64    { return float64(c) }
func (g ldGrid) Y(r int) float64    { return float64(r) }
func (g ldGrid) Min() float64       { return 0 }
func (g ldGrid) Max() float64       { return 1 }

// LDHeatmap draws r^2 (or |D'| if dprime) between every pair of loci.
func LDHeatmap(ld *haplo.LD, dprime bool, title string) (*plot.Plot, error) {
	if len(ld.Loci) < 2 {
		return nil, fmt.Errorf("LD heatmap needs at least 2 loci")
	}
	g := ldGrid{m: ld.R2}
	measure := "r²"
	if dprime {
		g = ldGrid{m: ld.DPrime}
		measure = "|D'|"
	}
	hm := plotter.NewHeatMap(g, palette.Heat(64, 1))
	hm.NaN = color.White
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s)", title, measure)
	p.Add(hm)
	p.NominalX(ld.Loci...)
	p.NominalY(ld.Loci...)
	return p, nil
}

// PCAPlot draws samples on two principal components, one color per
// group.
func PCAPlot(x, y []float64, groups []string, xlabel, ylabel, title string) (*plot.Plot, error) {
	if len(x) != len(y) || len(x) != len(groups) {
		return nil, fmt.Errorf("PCA plot: %d x, %d y, %d groups", len(x), len(y), len(groups))
	}
	byGroup := map[string]plotter.XYs{}
	for i, grp := range groups {
		byGroup[grp] = append(byGroup[grp], plotter.XY{X: x[i], Y: y[i]})
	}
	var names []string
	for grp := range byGroup {
		names = append(names, grp)
	}
	sort.Strings(names)
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	for k, grp := range names {
		sc, err := plotter.NewScatter(byGroup[grp])
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle = draw.GlyphStyle{Color: plotutil.Color(k), Radius: vg.Points(3), Shape: plotutil.Shape(k)}
		p.Add(sc)
		p.Legend.Add(grp, sc)
	}
	return p, nil
}

// WindowTrack draws -log10 p of each sliding window at the window's
// middle locus, one line per width.
func WindowTrack(res *haplo.WindowResult, loci []string, title string) (*plot.Plot, error) {
	byWidth := map[int]plotter.XYs{}
	for _, w := range res.Windows {
		p := math.Max(w.P, 1e-300)
		byWidth[w.Width] = append(byWidth[w.Width], plotter.XY{X: float64(w.Start) + float64(w.Width-1)/2, Y: -math.Log10(p)})
	}
	var widths []int
	for w := range byWidth {
		widths = append(widths, w)
	}
	sort.Ints(widths)
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (best window p=%.3g, simulated p=%.3g)", title, res.Best.P, res.SimP)
	p.Y.Label.Text = "-log10(p)"
	for k, width := range widths {
		line, points, err := plotter.NewLinePoints(byWidth[width])
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(k)
		points.Color = plotutil.Color(k)
		points.Shape = plotutil.Shape(k)
		p.Add(line, points)
		p.Legend.Add(fmt.Sprintf("%d loci", width), line, points)
	}
	p.NominalX(loci...)
	return p, nil
}
