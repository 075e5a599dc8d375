package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

type textModel struct {
	BaseEstimator
	text string
}

func (m *textModel) ModelString() (string, error) {
	if err := m.CheckFitted("textModel.ModelString"); err != nil {
		return "", err
	}
	return m.text, nil
}

func (m *textModel) LoadModelString(s string) error {
	m.text = s
	m.SetFitted()
	return nil
}

func TestBaseEstimator(t *testing.T) {
	var e BaseEstimator
	assert.False(t, e.IsFitted())
	err := e.CheckFitted("Predict")
	assert.True(t, errors.IsPrecondition(err))

	e.SetFitted()
	assert.True(t, e.IsFitted())
	assert.NoError(t, e.CheckFitted("Predict"))

	e.Reset()
	assert.False(t, e.IsFitted())
}

func TestPersistence(t *testing.T) {
	t.Run("round trip through a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.txt")
		src := &textModel{text: "tree\nversion=v4\n"}
		src.SetFitted()
		require.NoError(t, SaveModel(src, path))

		dst := &textModel{}
		require.NoError(t, LoadModel(dst, path))
		assert.Equal(t, src.text, dst.text)
		assert.True(t, dst.IsFitted())
	})

	t.Run("unfitted model is not written", func(t *testing.T) {
		var buf bytes.Buffer
		err := SaveModelToWriter(&textModel{}, &buf)
		assert.True(t, errors.IsPrecondition(err))
		assert.Zero(t, buf.Len())
	})

	t.Run("missing file", func(t *testing.T) {
		err := LoadModel(&textModel{}, filepath.Join(t.TempDir(), "absent.txt"))
		assert.Error(t, err)
	})
}
