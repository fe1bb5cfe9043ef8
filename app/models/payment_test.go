package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentMetadataRoundTrip(t *testing.T) {
	p := &Payment{PaymentIntentID: "pi_1"}

	err := p.SetMetadata(map[string]string{"plan_id": "price_gold", "invoice_id": "in_1"})
	require.NoError(t, err)

	got := p.MetadataMap()
	assert.Equal(t, "price_gold", got["plan_id"])
	assert.Equal(t, "in_1", got["invoice_id"])
}

func TestPaymentMetadataEmpty(t *testing.T) {
	p := &Payment{}
	assert.Empty(t, p.MetadataMap())

	require.NoError(t, p.SetMetadata(nil))
	assert.Empty(t, p.Metadata)
}

func TestPaymentMetadataBrokenColumn(t *testing.T) {
	p := &Payment{Metadata: "{not json"}
	assert.Empty(t, p.MetadataMap())
}
