package limits

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/rustyeddy/riskengine/broker"
)

// Rejection is a limit violation recovered from a broker error code such as
// "error.invalid.stoploss.maxvalue: 105".
type Rejection struct {
	Field string // stoploss, takeprofit or size
	Max   bool
	Value float64
}

var rejectionRE = regexp.MustCompile(`(?i)error\.invalid\.(stoploss|takeprofit|profit|size)\.(min|max)value:\s*([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)`)

// ParseRejection extracts a Rejection from msg.
func ParseRejection(msg string) (Rejection, bool) {
	m := rejectionRE.FindStringSubmatch(msg)
	if m == nil {
		return Rejection{}, false
	}
	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Rejection{}, false
	}

	field := strings.ToLower(m[1])
	if field == "profit" {
		field = "takeprofit"
	}
	return Rejection{Field: field, Max: strings.EqualFold(m[2], "max"), Value: v}, true
}

// Update returns the cache update r implies.
func (r Rejection) Update() Update {
	b := Bounds{Min: r.Value}
	if r.Max {
		b = Bounds{Max: r.Value}
	}
	switch r.Field {
	case "stoploss":
		return Update{StopLoss: b}
	case "takeprofit":
		return Update{TakeProfit: b}
	default:
		return Update{Size: b}
	}
}

// rejectionText pulls the code out of a broker error, falling back to the
// error text.
func rejectionText(err error) string {
	var rej *broker.RejectionError
	if errors.As(err, &rej) {
		return rej.Code + " " + rej.Message
	}
	return err.Error()
}
