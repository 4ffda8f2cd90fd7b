package service_test

import (
	"encoding/json"
	"strconv"
)

func itoa(n int) string { return strconv.Itoa(n) }

func decode(body []byte, v any) error { return json.Unmarshal(body, v) }
