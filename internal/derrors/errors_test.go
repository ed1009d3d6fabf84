package derrors

import (
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_Classified(t *testing.T) {
	err := New(KindUpstream, "engine returned garbage")
	assert.Equal(t, KindUpstream, KindOf(err))
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	inner := Validation("latitude out of range", "latitude must be between -90 and 90")
	wrapped := eris.Wrap(inner, "resolve geometry")

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, "latitude must be between -90 and 90", HintOf(wrapped))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(eris.New("boom")))
}

func TestWrap_RetainsCause(t *testing.T) {
	cause := eris.New("connection refused")
	err := Wrap(KindUnavailable, cause, "engine window query")

	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "engine window query")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_MessageRenderedOnce(t *testing.T) {
	err := Wrap(KindUpstream, eris.New("connection refused"), "engine window query")
	assert.Equal(t, 1, strings.Count(err.Error(), "engine window query"))
}

func TestIsKind(t *testing.T) {
	err := eris.Wrap(New(KindAlreadyClaimed, "job claimed by another worker"), "claim")
	assert.True(t, IsKind(err, KindAlreadyClaimed))
	assert.False(t, IsKind(err, KindNotFound))
}

func TestValidationf(t *testing.T) {
	err := Validationf("use YYYY-MM-DD", "invalid date %q", "2024-13-01")
	assert.Equal(t, KindValidation, err.Kind)
	assert.Contains(t, err.Message, "2024-13-01")
	assert.Equal(t, "use YYYY-MM-DD", err.Hint)
}
