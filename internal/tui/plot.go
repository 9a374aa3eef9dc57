package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/avolkin/midibeat/internal/model"
)

const (
	minPlotWidth  = 10
	minPlotHeight = 3
	axisLabelTop  = "max"
	axisSeparator = " │ "
)

// renderCurve draws the tempo probability curve as a braille line
// chart with a BPM axis underneath. An estimate marker column is drawn
// at markBPM when marked is true.
func renderCurve(points []model.CurvePoint, width, height int, markBPM float64, marked bool) string {
	if len(points) == 0 {
		return ""
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}
	if height < minPlotHeight {
		height = minPlotHeight
	}

	values := make([]float64, len(points))
	maxScore := 0.0
	for i, p := range points {
		values[i] = p.Score
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}
	values = resample(values, width)
	if maxScore <= 0 {
		maxScore = 1
	}

	cells := makeCells(height, width)
	prevX, prevY := -1, -1
	for x, v := range values {
		row := valueToRow(v, 0, maxScore, height*4)
		px, py := x*2, row
		if prevX >= 0 {
			drawLine(prevX, prevY, px, py, func(dx, dy int) {
				setBrailleDot(cells, dx, dy)
			})
		} else {
			setBrailleDot(cells, px, py)
		}
		prevX, prevY = px, py
	}

	if marked {
		lo, hi := points[0].BPM, points[len(points)-1].BPM
		if hi > lo {
			col := int(math.Round((markBPM - lo) / (hi - lo) * float64(width-1)))
			if col >= 0 && col < width {
				for y := 0; y < height*4; y++ {
					setBrailleDot(cells, col*2, y)
				}
			}
		}
	}

	labels := axisLabels(height)
	labelWidth := len(axisLabelTop)
	var b strings.Builder
	for y := 0; y < height; y++ {
		fmt.Fprintf(&b, "%*s%s", labelWidth, labels[y], axisSeparator)
		for x := 0; x < width; x++ {
			b.WriteRune(brailleFromMask(cells[y][x]))
		}
		b.WriteByte('\n')
	}
	b.WriteString(bpmAxis(points[0].BPM, points[len(points)-1].BPM, labelWidth, width))
	return b.String()
}

// bpmAxis renders the horizontal axis line with BPM values on both
// ends and the midpoint.
func bpmAxis(lo, hi float64, labelWidth, width int) string {
	left := fmt.Sprintf("%.0f", lo)
	mid := fmt.Sprintf("%.0f", (lo+hi)/2)
	right := fmt.Sprintf("%.0f", hi)

	line := make([]byte, width)
	for i := range line {
		line[i] = ' '
	}
	place := func(s string, at int) {
		if at < 0 {
			at = 0
		}
		if at+len(s) > width {
			at = width - len(s)
		}
		if at < 0 {
			return
		}
		copy(line[at:], s)
	}
	place(left, 0)
	place(mid, (width-len(mid))/2)
	place(right, width-len(right))
	return strings.Repeat(" ", labelWidth+len([]rune(axisSeparator))) + string(line)
}

func axisLabels(height int) []string {
	labels := make([]string, height)
	labels[0] = axisLabelTop
	if height > 2 {
		labels[height/2] = "50%"
	}
	labels[height-1] = "0"
	return labels
}

func makeCells(height, width int) [][]uint8 {
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	return cells
}

// resample stretches or shrinks values to exactly width samples,
// averaging when shrinking and interpolating when stretching.
func resample(values []float64, width int) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	if len(values) == width {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, width)
	if len(values) > width {
		for i := 0; i < width; i++ {
			start := int(float64(i) * float64(len(values)) / float64(width))
			end := int(float64(i+1) * float64(len(values)) / float64(width))
			if end <= start {
				end = start + 1
			}
			if end > len(values) {
				end = len(values)
			}
			var sum float64
			for _, v := range values[start:end] {
				sum += v
			}
			out[i] = sum / float64(end-start)
		}
		return out
	}
	if len(values) == 1 {
		for i := range out {
			out[i] = values[0]
		}
		return out
	}
	for i := 0; i < width; i++ {
		pos := float64(i) * float64(len(values)-1) / float64(width-1)
		idx := int(math.Floor(pos))
		if idx >= len(values)-1 {
			out[i] = values[len(values)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = values[idx]*(1-frac) + values[idx+1]*frac
	}
	return out
}

func valueToRow(v, minVal, maxVal float64, height int) int {
	if height <= 1 {
		return 0
	}
	pos := (v - minVal) / (maxVal - minVal)
	row := int(math.Round((1 - pos) * float64(height-1)))
	if row < 0 {
		row = 0
	}
	if row >= height {
		row = height - 1
	}
	return row
}

func drawLine(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := int(math.Abs(float64(x1 - x0)))
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -int(math.Abs(float64(y1 - y0)))
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			if x0 == x1 {
				break
			}
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			if y0 == y1 {
				break
			}
			err += dx
			y0 += sy
		}
	}
}

func setBrailleDot(cells [][]uint8, x, y int) {
	if y < 0 || x < 0 {
		return
	}
	cellY := y / 4
	cellX := x / 2
	if cellY >= len(cells) || cellX >= len(cells[cellY]) {
		return
	}
	cells[cellY][cellX] |= brailleDotMask(x%2, y%4)
}

func brailleDotMask(x, y int) uint8 {
	switch {
	case x == 0 && y == 0:
		return 0x01
	case x == 0 && y == 1:
		return 0x02
	case x == 0 && y == 2:
		return 0x04
	case x == 0 && y == 3:
		return 0x40
	case x == 1 && y == 0:
		return 0x08
	case x == 1 && y == 1:
		return 0x10
	case x == 1 && y == 2:
		return 0x20
	case x == 1 && y == 3:
		return 0x80
	default:
		return 0
	}
}

func brailleFromMask(mask uint8) rune {
	return rune(0x2800 + int(mask))
}
