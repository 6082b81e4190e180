package businessflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSaleMessage = `🎉 Venda Aprovada!
*ID da Transação:* TX-123456
💰 Valor Líquido: R$ 1.234,56
Nome do Cliente: Maria Silva
EMAIL: Maria@Example.com
Código de Venda: SALE-9
Plataforma Pagamento: Apex
Método Pagamento: PIX`

func TestParseChatMessage(t *testing.T) {
	parsed, err := ParseChatMessage(sampleSaleMessage)
	require.NoError(t, err)
	assert.Equal(t, "TX-123456", parsed.TransactionID)
	assert.InDelta(t, 1234.56, parsed.NetValue, 0.0001)
	assert.Equal(t, "Maria Silva", parsed.CustomerName)
	assert.Equal(t, "maria@example.com", parsed.CustomerEmail)
	assert.Equal(t, "SALE-9", parsed.SaleCode)
	assert.Equal(t, "Apex", parsed.PaymentPlatform)
	assert.Equal(t, "PIX", parsed.PaymentMethod)
}

func TestParseChatMessage_LabelVariants(t *testing.T) {
	msg := "id da transacao - : tx-1\nVALOR LIQUIDO: 49,90\nmetodo de pagamento: cartão"
	parsed, err := ParseChatMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", parsed.TransactionID)
	assert.InDelta(t, 49.90, parsed.NetValue, 0.0001)
	assert.Equal(t, "cartão", parsed.PaymentMethod)
	assert.Empty(t, parsed.SaleCode)
}

func TestParseChatMessage_NotASale(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "missing net value", text: "ID da Transação: TX-1\nNome do Cliente: Ana"},
		{name: "missing transaction", text: "Valor Líquido: R$ 10,00"},
		{name: "unparseable value", text: "ID da Transação: TX-1\nValor Líquido: a combinar"},
		{name: "chatter", text: "bom dia pessoal"},
		{name: "empty", text: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChatMessage(tt.text)
			assert.True(t, IsNotASaleEvent(err))
		})
	}
}

func TestFoldLabel(t *testing.T) {
	assert.Equal(t, "valor liquido", FoldLabel("💰 *Valor Líquido*"))
	assert.Equal(t, "codigo de venda", FoldLabel("  Código   de-Venda "))
	assert.Equal(t, "id da transacao", FoldLabel("ID da Transação"))
}

func TestParseBRLAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"R$ 1.234,56", 1234.56, true},
		{"R$49,90", 49.90, true},
		{"49.90", 49.90, true},
		{"1.234", 1234, true},
		{"1.234.567,8", 1234567.8, true},
		{"150", 150, true},
		{"R$ ", 0, false},
		{"-5,00", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseBRLAmount(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 0.0001, tt.raw)
		}
	}
}
