package language_test

import (
	"errors"
	"testing"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	"github.com/zhouzirui/smartguard/internal/service/language"
)

func TestNewContextDefaultsUnsupported(t *testing.T) {
	ctx := language.NewContext("xx")
	if got := ctx.Current(); got != model.English {
		t.Fatalf("expected en, got %s", got)
	}
}

func TestSetNotifiesOnChangeOnly(t *testing.T) {
	ctx := language.NewContext(model.English)

	var calls [][2]model.Code
	ctx.Subscribe(func(prev, next model.Code) {
		calls = append(calls, [2]model.Code{prev, next})
	})

	changed, err := ctx.Set(model.Spanish)
	if err != nil || !changed {
		t.Fatalf("Set(es) = (%v, %v), want (true, nil)", changed, err)
	}
	changed, err = ctx.Set(model.Spanish)
	if err != nil || changed {
		t.Fatalf("second Set(es) = (%v, %v), want (false, nil)", changed, err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(calls))
	}
	if calls[0] != [2]model.Code{model.English, model.Spanish} {
		t.Fatalf("unexpected notification %v", calls[0])
	}
	if ctx.Current() != model.Spanish {
		t.Fatalf("expected es, got %s", ctx.Current())
	}
}

func TestSetRejectsUnsupported(t *testing.T) {
	ctx := language.NewContext(model.French)

	if _, err := ctx.Set("pt"); !errors.Is(err, language.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if ctx.Current() != model.French {
		t.Fatalf("language changed after rejected Set")
	}
}
