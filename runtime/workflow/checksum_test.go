package workflow_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/workflow"
)

func TestChecksumIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := []byte(`{"id":"w","displayName":"W","nodes":[{"id":"n","actionType":"x"}]}`)
	b := []byte(`{
		"nodes": [ {"actionType": "x", "id": "n"} ],
		"displayName": "W",
		"id": "w"
	}`)
	ca, err := workflow.Checksum(a)
	require.NoError(t, err)
	cb, err := workflow.Checksum(b)
	require.NoError(t, err)
	require.Equal(t, ca, cb)
}

func TestChecksumDistinguishesContent(t *testing.T) {
	ca, err := workflow.Checksum([]byte(`{"id":"w","v":1}`))
	require.NoError(t, err)
	cb, err := workflow.Checksum([]byte(`{"id":"w","v":2}`))
	require.NoError(t, err)
	require.NotEqual(t, ca, cb)
}

func TestChecksumPreservesNumberRepresentation(t *testing.T) {
	// Large integers must not be rounded through float64.
	ca, err := workflow.Checksum([]byte(`{"n":9007199254740993}`))
	require.NoError(t, err)
	cb, err := workflow.Checksum([]byte(`{"n":9007199254740992}`))
	require.NoError(t, err)
	require.NotEqual(t, ca, cb)
}

func TestCanonicalizeRejectsMalformedJSON(t *testing.T) {
	_, err := workflow.Canonicalize([]byte(`{`))
	require.Error(t, err)
}

func TestChecksumStableUnderKeyPermutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	properties.Property("checksum survives key reordering", prop.ForAll(
		func(keys []string, values []int, reversed bool) bool {
			if len(keys) == 0 {
				return true
			}
			forward := make([]string, 0, len(keys))
			seen := map[string]bool{}
			for i, k := range keys {
				if k == "" || seen[k] {
					continue
				}
				seen[k] = true
				forward = append(forward, fmt.Sprintf("%q:%d", k, values[i%len(values)]))
			}
			if len(forward) == 0 {
				return true
			}
			backward := make([]string, len(forward))
			for i, f := range forward {
				backward[len(forward)-1-i] = f
			}
			docA := "{" + strings.Join(forward, ",") + "}"
			docB := "{" + strings.Join(backward, ",") + "}"
			if !reversed {
				docB = "{\n  " + strings.Join(forward, " ,\n  ") + "\n}"
			}
			ca, err := workflow.Checksum([]byte(docA))
			if err != nil {
				return false
			}
			cb, err := workflow.Checksum([]byte(docB))
			if err != nil {
				return false
			}
			return ca == cb
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOfN(4, gen.Int()),
		gen.Bool(),
	))
	properties.TestingRun(t)
}
