package mongo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	mongostore "goa.design/weave/features/store/mongo"
	"goa.design/weave/runtime/store"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := mongostore.New(mongostore.Options{})
	require.Error(t, err)
}

func TestStoreSatisfiesGateway(t *testing.T) {
	// Compile-time check that the Mongo store implements the full contract.
	var _ store.Gateway = (*mongostore.Store)(nil)
	require.True(t, true)
}
