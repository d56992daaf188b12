package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
)

// BoundingBox представляет найденный объект в формате xyxy
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Class      string  `json:"class"` // "LL_type", например "02_orc"
	Confidence float64 `json:"confidence"`
}

// Detection объект, привязанный к сектору сетки
type Detection struct {
	SectorRow int    `json:"sector_row"`
	SectorCol int    `json:"sector_col"`
	Level     string `json:"Lv"`
	Type      string `json:"type"`
}

// GridResult сектор "row-col" -> найденные в нём объекты.
// Ключи покрывают всю сетку, пустой сектор хранится как пустой список.
type GridResult map[string][]Detection

// SectorKey возвращает ключ сектора в формате "row-col"
func SectorKey(row, col int) string {
	return fmt.Sprintf("%d-%d", row, col)
}

// Pretty форма для хранения на диске
func (g GridResult) Pretty() ([]byte, error) {
	return g.encode("    ")
}

// Compact форма для отправки подписчику
func (g GridResult) Compact() ([]byte, error) {
	data, err := g.encode("")
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(data, "\n"), nil
}

func (g GridResult) encode(indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(g.normalized()); err != nil {
		return nil, errors.Annotate(err, "encoding grid result")
	}
	return buf.Bytes(), nil
}

// normalized заменяет nil-списки на пустые, чтобы в JSON было [] а не null
func (g GridResult) normalized() map[string][]Detection {
	out := make(map[string][]Detection, len(g))
	for key, detections := range g {
		if detections == nil {
			detections = []Detection{}
		}
		out[key] = detections
	}
	return out
}

// ParseGridResult разбирает сохранённую запись
func ParseGridResult(data []byte) (GridResult, error) {
	var result GridResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.WithType(errors.Annotate(err, "parsing grid result"), CorruptRecord)
	}
	if result == nil {
		return nil, errors.WithType(errors.New("grid result is null"), CorruptRecord)
	}
	for key, detections := range result {
		if detections == nil {
			result[key] = []Detection{}
		}
	}
	return result, nil
}

// DetectionRequest запрос на детекцию
type DetectionRequest struct {
	UserID    UserID
	ImageData []byte
	Filename  string
	Cols      int // x_divisions
	Rows      int // y_divisions
}

// DetectionResult результат обработки одного изображения
type DetectionResult struct {
	Grid      GridResult `json:"-"`
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Delivered bool       `json:"delivered"`
}

// UserProfile данные аккаунта, которые ведёт сервис авторизации.
// Отсутствующие в файле поля остаются nil.
type UserProfile struct {
	ID       string  `json:"id"`
	Nickname *string `json:"nickname"`
	Level    *int    `json:"level"`
	Exp      *int    `json:"exp"`
}

// UserDataResponse профиль вместе с последним результатом детекции
type UserDataResponse struct {
	ID            string     `json:"id"`
	Nickname      *string    `json:"nickname"`
	Level         *int       `json:"level"`
	Exp           *int       `json:"exp"`
	DetectionData GridResult `json:"detection_data"`
}
