// Package grid раскладывает найденные объекты по секторам сетки,
// наложенной на исходное изображение.
package grid

import (
	"math"

	"github.com/juju/errors"

	"prudo-grid/internal/domain"
)

// Bucket относит каждый объект к сектору, в который попадает центр его рамки.
//
// Имя класса модели имеет вид "LL_type": первые два символа уровень,
// с четвёртого символа тип объекта.
func Bucket(boxes []domain.BoundingBox, width, height, cols, rows int) (domain.GridResult, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.NotValidf("image size %dx%d", width, height)
	}
	if cols <= 0 || rows <= 0 {
		return nil, errors.NotValidf("grid %dx%d", cols, rows)
	}

	result := make(domain.GridResult, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			result[domain.SectorKey(row, col)] = []domain.Detection{}
		}
	}

	sectorWidth := float64(width) / float64(cols)
	sectorHeight := float64(height) / float64(rows)
	for _, box := range boxes {
		centerX := (box.X1 + box.X2) / 2
		centerY := (box.Y1 + box.Y2) / 2

		col := sectorIndex(centerX, sectorWidth, cols)
		row := sectorIndex(centerY, sectorHeight, rows)
		level, kind := splitClass(box.Class)

		key := domain.SectorKey(row, col)
		result[key] = append(result[key], domain.Detection{
			SectorRow: row,
			SectorCol: col,
			Level:     level,
			Type:      kind,
		})
	}
	return result, nil
}

// центр на правой или нижней границе попадает в последний сектор
func sectorIndex(center, size float64, n int) int {
	idx := math.Floor(center / size)
	switch {
	case math.IsNaN(idx) || idx < 0:
		return 0
	case idx > float64(n-1):
		return n - 1
	}
	return int(idx)
}

// splitClass делит метку "LL_type" по символам, а не по байтам
func splitClass(class string) (level, kind string) {
	runes := []rune(class)
	if len(runes) <= 2 {
		return class, ""
	}
	level = string(runes[:2])
	if len(runes) > 3 {
		kind = string(runes[3:])
	}
	return level, kind
}
