package gateway

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceprofiles/internal/faceprofile"
)

func TestCodecDecodesNonFiniteEmbeddingComponents(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"bare tokens", `{"status":"ok","profile_id":"p1","embedding":[0.5,NaN,Infinity,-Infinity]}`},
		{"quoted tokens", `{"status":"ok","profile_id":"p1","embedding":[0.5,"NaN","Infinity","-Infinity"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp enrollFaceResponse
			require.NoError(t, jsonCodec{}.Unmarshal([]byte(tt.payload), &resp))

			require.Len(t, resp.Embedding, 4)
			assert.Equal(t, 0.5, resp.Embedding[0])
			assert.True(t, math.IsNaN(resp.Embedding[1]))
			assert.True(t, math.IsInf(resp.Embedding[2], 1))
			assert.True(t, math.IsInf(resp.Embedding[3], -1))
		})
	}
}

func TestCodecNullComponentBecomesNaN(t *testing.T) {
	var resp enrollFaceResponse
	require.NoError(t, jsonCodec{}.Unmarshal([]byte(`{"status":"ok","embedding":[null,0.25]}`), &resp))
	require.Len(t, resp.Embedding, 2)
	assert.True(t, math.IsNaN(resp.Embedding[0]))
	assert.Equal(t, 0.25, resp.Embedding[1])
}

func TestCodecLeavesStringsAlone(t *testing.T) {
	var resp enrollFaceResponse
	payload := `{"status":"rejected","message":"NaN in \"Infinity\" mode","embedding":[NaN]}`
	require.NoError(t, jsonCodec{}.Unmarshal([]byte(payload), &resp))
	assert.Equal(t, `NaN in "Infinity" mode`, resp.Message)
	require.Len(t, resp.Embedding, 1)
}

func TestCodecRejectsMalformedPayload(t *testing.T) {
	var resp enrollFaceResponse
	assert.Error(t, jsonCodec{}.Unmarshal([]byte(`{"status":`), &resp))
	assert.Error(t, jsonCodec{}.Unmarshal([]byte(`{"embedding":["abc"]}`), &resp))
}

func TestNonFiniteEmbeddingReachesValidator(t *testing.T) {
	payload := []byte(`{"status":"ok","embedding":[NaN` + strings.Repeat(",0.1", faceprofile.EmbeddingDim-1) + `]}`)

	var resp enrollFaceResponse
	require.NoError(t, jsonCodec{}.Unmarshal(payload, &resp))

	emb, err := faceprofile.ValidateEmbedding(resp.Embedding)
	require.NoError(t, err)
	assert.Equal(t, float32(0), emb.Values[0])
	assert.InDelta(t, 0.1, emb.Values[1], 1e-6)
}

