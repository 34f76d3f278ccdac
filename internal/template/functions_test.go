package template

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestFnUUID(t *testing.T) {
	rng := testRand()
	a, err := fnUUID("", rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !uuidPattern.MatchString(a) {
		t.Errorf("not a v4 UUID: %s", a)
	}

	b, _ := fnUUID("", rng)
	if a == b {
		t.Error("expected distinct UUIDs from one stream")
	}

	if _, err := fnUUID("x", rng); err == nil {
		t.Error("expected error when uuid() gets arguments")
	}
}

func TestFnTimestamp(t *testing.T) {
	before := time.Now().Unix()
	result, err := fnTimestamp("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		t.Fatalf("not an integer: %s", result)
	}
	if ts < before || ts > time.Now().Unix() {
		t.Errorf("timestamp %d out of range", ts)
	}

	ms, err := fnTimestampMs("", nil)
	if err != nil || len(ms) != 13 {
		t.Errorf("expected 13-digit millisecond timestamp, got %q (%v)", ms, err)
	}
}

func TestFnRandom(t *testing.T) {
	rng := testRand()
	for i := 0; i < 100; i++ {
		result, err := fnRandom(" 1, 10 ", rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n, _ := strconv.Atoi(result)
		if n < 1 || n > 10 {
			t.Fatalf("random value %d out of [1, 10]", n)
		}
	}

	if result, _ := fnRandom("7,7", rng); result != "7" {
		t.Errorf("expected 7 for single-value range, got %s", result)
	}
}

func TestFnRandom_InvalidArgs(t *testing.T) {
	for _, args := range []string{"", "1", "a,b", "1,b", "10,1", "1,2,3"} {
		if _, err := fnRandom(args, testRand()); err == nil {
			t.Errorf("expected error for random(%s)", args)
		}
	}
}

func TestFnRandomString(t *testing.T) {
	result, err := fnRandomString("12", testRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^[a-zA-Z0-9]{12}$`).MatchString(result) {
		t.Errorf("unexpected result: %s", result)
	}

	for _, args := range []string{"", "abc", "0", "-1", "1001"} {
		if _, err := fnRandomString(args, testRand()); err == nil {
			t.Errorf("expected error for random_string(%s)", args)
		}
	}
}

func TestFnPick(t *testing.T) {
	seen := map[string]bool{}
	rng := testRand()
	for i := 0; i < 200; i++ {
		v, err := fnPick("cats, dogs", rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[v] = true
	}
	if !seen["cats"] || !seen["dogs"] || len(seen) != 2 {
		t.Errorf("expected both choices, got %v", seen)
	}

	if _, err := fnPick(" ", rng); err == nil {
		t.Error("expected error for empty pick()")
	}
}

func TestFnDate(t *testing.T) {
	result, err := fnDate("2006-01-02", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != time.Now().Format("2006-01-02") {
		t.Errorf("unexpected date: %s", result)
	}

	result, _ = fnDate("", nil)
	if _, err := time.Parse(time.RFC3339, result); err != nil {
		t.Errorf("expected RFC3339 default, got %s", result)
	}
}

func TestSubstitute_Functions(t *testing.T) {
	tests := []struct {
		input   string
		pattern string
	}{
		{"${uuid()}", uuidPattern.String()},
		{"${timestamp()}", `^\d{10}$`},
		{"${timestamp_ms()}", `^\d{13}$`},
		{"${random(1,100)}", `^\d{1,3}$`},
		{"${random_string(8)}", `^[a-zA-Z0-9]{8}$`},
		{"${pick(a,b)}", `^(a|b)$`},
		{"${date(2006-01-02)}", `^\d{4}-\d{2}-\d{2}$`},
	}

	for _, tc := range tests {
		result, err := Substitute(tc.input, nil, testRand())
		if err != nil {
			t.Errorf("Substitute(%q) error: %v", tc.input, err)
			continue
		}
		if matched, _ := regexp.MatchString(tc.pattern, result); !matched {
			t.Errorf("Substitute(%q) = %q, doesn't match pattern %s", tc.input, result, tc.pattern)
		}
	}
}

func TestSubstitute_InvalidFunction(t *testing.T) {
	_, err := Substitute("${random(abc)}", nil, testRand())
	if err == nil || !strings.Contains(err.Error(), "function random") {
		t.Errorf("expected function error, got: %v", err)
	}
}

func TestSubstitute_UnknownFunction(t *testing.T) {
	// unknown_func() is treated as a missing variable
	_, err := Substitute("${unknown_func()}", nil, testRand())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected 'not found' error, got: %v", err)
	}
}

func BenchmarkFnUUID(b *testing.B) {
	rng := testRand()
	for i := 0; i < b.N; i++ {
		_, _ = fnUUID("", rng)
	}
}
