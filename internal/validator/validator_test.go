package validator

import "testing"

func TestClassifyValid(t *testing.T) {
	t.Parallel()
	if got := Classify(Result{}); got != Valid {
		t.Errorf("Classify(empty) = %v, want Valid", got)
	}
}

func TestClassifyTransient(t *testing.T) {
	t.Parallel()
	res := Result{Errors: []Code{CodeInsufficientBalance, CodeOrderExpired}}
	if got := Classify(res); got != TransientInvalid {
		t.Errorf("Classify(transient codes) = %v, want TransientInvalid", got)
	}
}

func TestClassifyFatal(t *testing.T) {
	t.Parallel()
	res := Result{Errors: []Code{CodeInsufficientBalance, Code(9999)}}
	if got := Classify(res); got != FatalInvalid {
		t.Errorf("Classify(mixed codes with unknown) = %v, want FatalInvalid", got)
	}
}
