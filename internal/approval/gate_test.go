package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/undoable/undoable/internal/actionlog"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		category actionlog.Category
		mode     Mode
		want     Decision
	}{
		{actionlog.CategoryRead, ModeAlways, DecisionAutoApproved},
		{actionlog.CategoryRead, ModeNever, DecisionAutoApproved},
		{actionlog.CategoryNetwork, ModeAutoSafe, DecisionAutoApproved},
		{actionlog.CategoryNetwork, ModeAlways, DecisionRequireUser},
		{actionlog.CategoryMutate, ModeNever, DecisionAutoApproved},
		{actionlog.CategoryMutate, ModeAlways, DecisionRequireUser},
		{actionlog.CategoryMutate, ModeAutoSafe, DecisionRequireUser},
		{actionlog.CategoryDestructive, ModeNever, DecisionRequireUser},
		{actionlog.CategoryDestructive, ModeAlways, DecisionRequireUser},
	}
	for _, c := range cases {
		got := Evaluate(c.category, c.mode)
		assert.Equalf(t, c.want, got, "category=%s mode=%s", c.category, c.mode)
	}
}
