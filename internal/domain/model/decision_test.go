package model_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudScoringApp/internal/domain/model"
)

func TestThresholdConfigValidate(t *testing.T) {
	for _, v := range []float64{0, 0.5, 0.125, 0.999, 1} {
		assert.NoError(t, model.ThresholdConfig{Threshold: v}.Validate(), v)
	}

	cases := []struct {
		value float64
		msg   string
	}{
		{-0.001, "between 0 and 1"},
		{1.001, "between 0 and 1"},
		{math.NaN(), "between 0 and 1"},
		{0.1234, "at most 3 decimal places"},
		{0.5001, "at most 3 decimal places"},
	}
	for _, tc := range cases {
		err := model.ThresholdConfig{Threshold: tc.value}.Validate()
		require.Error(t, err, tc.value)
		assert.True(t, errors.Is(err, model.ErrValidation))

		var verr *model.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.True(t, verr.HasField("threshold"))
		assert.Contains(t, verr.Errors[0].Message, tc.msg)
	}
}
