package cmd

import (
	"math"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// parseArgs turns command line arguments into call arguments. Arguments that
// are valid JSON are sent as the value they encode, anything else as a string.
// Whole numbers are sent as integers.
func parseArgs(args []string) []interface{} {
	values := make([]interface{}, 0, len(args))

	for _, arg := range args {
		if !gjson.Valid(arg) {
			values = append(values, arg)
			continue
		}

		parsed := gjson.Parse(arg)
		if parsed.Type == gjson.Number && parsed.Num == math.Trunc(parsed.Num) && math.Abs(parsed.Num) < 1<<53 {
			values = append(values, parsed.Int())
			continue
		}

		values = append(values, parsed.Value())
	}

	return values
}

// formatResult renders a call result as {"result": ...}.
func formatResult(result interface{}) (string, error) {
	out, err := sjson.SetBytes([]byte("{}"), "result", result)
	if err != nil {
		return "", err
	}

	return string(out), nil
}
