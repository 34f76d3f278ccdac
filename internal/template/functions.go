package template

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var funcRegistry = map[string]func(args string, rng *rand.Rand) (string, error){
	"uuid":          fnUUID,
	"timestamp":     fnTimestamp,
	"timestamp_ms":  fnTimestampMs,
	"random":        fnRandom,
	"random_string": fnRandomString,
	"pick":          fnPick,
	"date":          fnDate,
}

// evalFunction evaluates a built-in function call.
// The second return value is false when expr is not a known function.
func evalFunction(expr string, rng *rand.Rand) (string, bool, error) {
	parenIdx := strings.Index(expr, "(")
	if parenIdx == -1 || !strings.HasSuffix(expr, ")") {
		return "", false, nil
	}

	funcName := expr[:parenIdx]
	args := expr[parenIdx+1 : len(expr)-1]

	fn, ok := funcRegistry[funcName]
	if !ok {
		return "", false, nil
	}

	result, err := fn(args, rng)
	if err != nil {
		return "", true, fmt.Errorf("function %s: %w", funcName, err)
	}
	return result, true, nil
}

// fnUUID generates a version 4 UUID from the VU's random stream.
func fnUUID(args string, rng *rand.Rand) (string, error) {
	if args != "" {
		return "", fmt.Errorf("uuid() takes no arguments")
	}
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func fnTimestamp(args string, _ *rand.Rand) (string, error) {
	if args != "" {
		return "", fmt.Errorf("timestamp() takes no arguments")
	}
	return strconv.FormatInt(time.Now().Unix(), 10), nil
}

func fnTimestampMs(args string, _ *rand.Rand) (string, error) {
	if args != "" {
		return "", fmt.Errorf("timestamp_ms() takes no arguments")
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10), nil
}

// fnRandom generates a random integer between min and max (inclusive).
// Usage: random(min,max)
func fnRandom(args string, rng *rand.Rand) (string, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return "", fmt.Errorf("random(min,max) requires exactly 2 arguments")
	}

	lo, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid min value: %w", err)
	}
	hi, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid max value: %w", err)
	}
	if lo > hi {
		return "", fmt.Errorf("min (%d) must be <= max (%d)", lo, hi)
	}

	return strconv.FormatInt(lo+rng.Int63n(hi-lo+1), 10), nil
}

// fnRandomString generates a random alphanumeric string.
// Usage: random_string(length)
func fnRandomString(args string, rng *rand.Rand) (string, error) {
	length, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return "", fmt.Errorf("invalid length: %w", err)
	}
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	if length > 1000 {
		return "", fmt.Errorf("length must be <= 1000")
	}

	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[rng.Intn(len(charset))]
	}
	return string(result), nil
}

// fnPick returns one of its comma-separated arguments.
// Usage: pick(cats,dogs)
func fnPick(args string, rng *rand.Rand) (string, error) {
	if strings.TrimSpace(args) == "" {
		return "", fmt.Errorf("pick() requires at least one argument")
	}
	choices := strings.Split(args, ",")
	return strings.TrimSpace(choices[rng.Intn(len(choices))]), nil
}

// fnDate formats the current time using Go's reference layout.
//   - date(2006-01-02) -> 2024-01-15
//   - date() -> RFC 3339
func fnDate(args string, _ *rand.Rand) (string, error) {
	format := strings.TrimSpace(args)
	if format == "" {
		format = time.RFC3339
	}
	return time.Now().Format(format), nil
}
