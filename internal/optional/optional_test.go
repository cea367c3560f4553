package optional

import (
	"encoding/json"
	"testing"
)

func TestOption(t *testing.T) {
	t.Parallel()

	t.Run("Zero", func(t *testing.T) {
		var o Option[int]
		if o.IsSome() || !o.IsNone() {
			t.Fatal("zero Option must be None")
		}
		if v, ok := o.Get(); ok || v != 0 {
			t.Fatalf("Get() = %d, %v", v, ok)
		}
	})

	t.Run("Some", func(t *testing.T) {
		o := Some("x")
		v, ok := o.Get()
		if !ok || v != "x" {
			t.Fatalf("Get() = %q, %v", v, ok)
		}
		if o.String() != "Some(x)" {
			t.Errorf("String() = %q", o.String())
		}
	})

	t.Run("OrZero", func(t *testing.T) {
		if v := Some(6).OrZero(); v != 6 {
			t.Errorf("Some(6).OrZero() = %d", v)
		}
		if v := None[int]().OrZero(); v != 0 {
			t.Errorf("None.OrZero() = %d", v)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		b, err := json.Marshal(struct {
			A Option[int] `json:"a"`
			B Option[int] `json:"b"`
		}{A: Some(1)})
		if err != nil {
			t.Fatal(err)
		}
		if got := string(b); got != `{"a":1,"b":null}` {
			t.Errorf("got %s", got)
		}
	})
}
