package controller

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"iot-environment-server/internal/modules/environment/service"
)

// instantLayout is RFC 3339 with optional fractional seconds. The offset is required.
const instantLayout = "2006-01-02T15:04:05.999999999Z07:00"

var integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// integer admits any signed digit run, including values outside the int range.
	if err := v.RegisterValidation("integer", func(fl validator.FieldLevel) bool {
		return integerPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

type historyQuery struct {
	Limit string `validate:"omitempty,integer"`
}

type sinceQuery struct {
	Timestamp string `validate:"required,datetime=2006-01-02T15:04:05.999999999Z07:00"`
}

// parseHistoryQuery returns the requested limit or def when absent. Negative
// and zero limits are passed through; the service turns them into [].
func parseHistoryQuery(r *http.Request, def int) (int, error) {
	q := historyQuery{Limit: r.URL.Query().Get("limit")}
	if err := validate.Struct(q); err != nil {
		return 0, malformed(err)
	}
	if q.Limit == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q.Limit)
	if err != nil {
		// digits only past validation, so this is a range error; saturate
		if q.Limit[0] == '-' {
			return -1, nil
		}
		return math.MaxInt, nil
	}
	return n, nil
}

func parseSinceQuery(r *http.Request) (time.Time, error) {
	q := sinceQuery{Timestamp: r.URL.Query().Get("timestamp")}
	if err := validate.Struct(q); err != nil {
		return time.Time{}, malformed(err)
	}
	return time.Parse(instantLayout, q.Timestamp)
}

// malformed turns validator failures into ErrMalformedInput with a message
// naming the offending query parameter.
func malformed(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", service.ErrMalformedInput, err)
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Limit":
		return fmt.Errorf("%w: invalid 'limit' %q (expected integer)", service.ErrMalformedInput, fe.Value())
	case "Timestamp":
		if fe.Tag() == "required" {
			return fmt.Errorf("%w: missing 'timestamp' (expected ISO-8601 instant)", service.ErrMalformedInput)
		}
		return fmt.Errorf("%w: invalid 'timestamp' %q (expected ISO-8601 instant with offset)", service.ErrMalformedInput, fe.Value())
	default:
		return fmt.Errorf("%w: %s failed %q", service.ErrMalformedInput, fe.Field(), fe.Tag())
	}
}
