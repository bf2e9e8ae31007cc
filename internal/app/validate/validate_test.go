package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Title        string `json:"title" validate:"notblank,max=20"`
	PassingScore int    `json:"passing_score" validate:"gte=0,lte=100"`
	Items        []item `json:"items" validate:"min=1,dive"`
}

type item struct {
	Text string `json:"text" validate:"notblank"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Title: "   ", PassingScore: 101, Items: []item{{Text: "a"}, {Text: ""}}})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "title")
	assert.Contains(t, verr.Fields, "passing_score")
	assert.Contains(t, verr.Fields, "items[1].text")
	assert.Equal(t, "title cannot be blank", verr.Fields["title"])
}

func TestStructAcceptsValidInput(t *testing.T) {
	assert.NoError(t, Struct(sample{Title: "Quiz", PassingScore: 60, Items: []item{{Text: "x"}}}))
}

func TestErrorMessageIsDeterministic(t *testing.T) {
	e := &Error{Fields: map[string]string{"b": "second", "a": "first"}}
	assert.Equal(t, "first; second", e.Error())
}
