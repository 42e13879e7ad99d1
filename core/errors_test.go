package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name       string
		err        *ValidationError
		wantMsg    string
		wantFields map[string]string
	}{
		{name: "empty", err: &ValidationError{}, wantMsg: "invalid input"},
		{
			name:       "fields only",
			err:        &ValidationError{Fields: []FieldError{{Field: "part", Error: "unknown exercise part"}}},
			wantMsg:    "part: unknown exercise part",
			wantFields: map[string]string{"part": "unknown exercise part"},
		},
		{
			name:       "single field",
			err:        NewFieldValidationError("order_index", errors.New("taken")).(*ValidationError),
			wantMsg:    "taken",
			wantFields: map[string]string{"order_index": "taken"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.Equal(t, tt.wantFields, tt.err.FieldMap())
		})
	}
}

func TestIsShutdown(t *testing.T) {
	err := NewShutdownError("database connection closed")
	assert.True(t, IsShutdown(err))
	assert.True(t, IsShutdown(errors.Wrap(err, "querying exercises")))
	assert.False(t, IsShutdown(errors.New("boom")))
	assert.False(t, IsShutdown(nil))
}
