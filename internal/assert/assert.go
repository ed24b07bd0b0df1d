package assert

import (
	"errors"
	"fmt"
	"log"
	"reflect"
)

// ErrAssertion is the kind every failed check unwraps to.
var ErrAssertion = errors.New("assertion failed")

var (
	// StrictMode panics on a failed check instead of returning the error.
	// Tests and debug builds turn it on; production keeps it off.
	StrictMode = false
	// SuppressLogs silences the log line written for every failed check.
	SuppressLogs = false
)

// Check returns nil when cond holds, otherwise an error carrying the formatted message.
func Check(cond bool, msg string, args ...interface{}) error {
	if cond {
		return nil
	}
	return fail(msg, args...)
}

// NotNil fails when v is nil, including typed nil pointers, maps, slices and funcs.
func NotNil(v interface{}, name string) error {
	if v == nil {
		return fail("%s must not be nil", name)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if rv.IsNil() {
			return fail("%s must not be nil", name)
		}
	}
	return nil
}

// InRange fails unless min <= v <= max.
func InRange(v, min, max int, name string) error {
	if v < min || v > max {
		return fail("%s out of range: %d not in [%d, %d]", name, v, min, max)
	}
	return nil
}

func fail(msg string, args ...interface{}) error {
	err := fmt.Errorf("%w: %s", ErrAssertion, fmt.Sprintf(msg, args...))
	if !SuppressLogs {
		log.Printf("{\"level\":\"warn\",\"msg\":\"assertion_failed\",\"error\":%q}", err.Error())
	}
	if StrictMode {
		panic(err)
	}
	return err
}
