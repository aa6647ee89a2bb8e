package presets

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-features/pkg/models"
	"github.com/menta2k/image-features/pkg/processing"
	"github.com/menta2k/image-features/pkg/types"
)

func TestWriteTable_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "table", buf.Bytes())
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, err := Get("haar_multiscale")
	require.NoError(t, err)
	c.Preprocessing.Scales[0] = 42
	c.Model.Options["coefs"] = 1

	again, err := Get("haar_multiscale")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.7071, 0.5}, again.Preprocessing.Scales)
	assert.Equal(t, 8, again.Model.Options["coefs"])
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("superpoint_aachen")
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestDefaultExists(t *testing.T) {
	_, err := Get(Default)
	assert.NoError(t, err)
}

func TestAllPresetsAreBuildable(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, err := Get(name)
			require.NoError(t, err)
			assert.NotEmpty(t, c.Output)

			_, err = models.New(c.Model)
			require.NoError(t, err)

			pre := c.Preprocessing.WithDefaults()
			require.NoError(t, processing.ValidateInterpolation(pre.Interpolation))
		})
	}
}
