package orders

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybridge/tallybridge/internal/tally"
)

func sampleOrder() Order {
	return Order{
		Company: tally.Company{LocationID: "1", GUID: "g-1", Name: "Acme"},
		Number:  "SO/17",
		Date:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Customer: Party{
			Name:      `Kapoor & "Sons"`,
			Address:   []string{"<Shop> 4", "Market's Lane"},
			Narration: "Urgent & fragile",
		},
		Items: []LineItem{
			{Name: "Widget", Quantity: decimal.NewFromInt(3), Rate: decimal.NewFromInt(100)},
			{Name: "Gadget", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(50), DiscountPct: decimal.NewFromInt(10)},
		},
	}
}

func TestOrderTotal(t *testing.T) {
	o := sampleOrder()
	assert.Equal(t, "300.00", o.Items[0].Value().StringFixed(2))
	assert.Equal(t, "45.00", o.Items[1].Value().StringFixed(2))
	assert.Equal(t, "345.00", o.Total().StringFixed(2))
}

func TestLineValueRoundsToPaise(t *testing.T) {
	item := LineItem{Quantity: decimal.RequireFromString("3"), Rate: decimal.RequireFromString("33.333"), DiscountPct: decimal.RequireFromString("12.5")}
	assert.Equal(t, "87.50", item.Value().StringFixed(2))
}

func TestTaxPctIsInformational(t *testing.T) {
	plain := sampleOrder()
	taxed := sampleOrder()
	taxed.Items[0].TaxPct = decimal.NewFromInt(18)

	assert.True(t, plain.Total().Equal(taxed.Total()))
	assert.Equal(t, BuildVoucherXML(plain, VoucherOptions{}), BuildVoucherXML(taxed, VoucherOptions{}))
}

func TestValidate(t *testing.T) {
	require.NoError(t, sampleOrder().Validate())

	o := sampleOrder()
	o.Company.GUID = ""
	assert.ErrorIs(t, o.Validate(), ErrCompanyMissing)

	o = sampleOrder()
	o.Items[1].Quantity = decimal.Zero
	assert.ErrorIs(t, o.Validate(), ErrInvalidQuantity)

	o = sampleOrder()
	o.Items[0].DiscountPct = decimal.NewFromInt(120)
	assert.ErrorIs(t, o.Validate(), ErrInvalidDiscount)

	o = sampleOrder()
	o.Items = nil
	assert.ErrorIs(t, o.Validate(), ErrNoItems)
}

func TestBuildVoucherXMLFromOrder(t *testing.T) {
	o := sampleOrder()
	o.PostAsOptional = true
	doc := BuildVoucherXML(o, VoucherOptions{SalesLedger: "Sales A/c"})

	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Contains(t, doc, "<VOUCHERTYPENAME>Sales Order</VOUCHERTYPENAME>")
	assert.Contains(t, doc, "<ISOPTIONAL>Yes</ISOPTIONAL>")
	assert.Contains(t, doc, "<AMOUNT>-345.00</AMOUNT>")
	assert.Contains(t, doc, "<LEDGERNAME>Sales A/c</LEDGERNAME>")
	assert.Contains(t, doc, "<NARRATION>Urgent &amp; fragile</NARRATION>")
	assert.NotContains(t, doc, `Kapoor & "Sons"`)
}

func TestCloneIsDeep(t *testing.T) {
	o := sampleOrder()
	o.Consignee = &Party{Name: "Depot", Address: []string{"A"}}
	c := o.Clone()
	c.Items[0].Name = "changed"
	c.Customer.Address[0] = "changed"
	c.Consignee.Address[0] = "changed"
	c.PostAsOptional = true

	assert.Equal(t, "Widget", o.Items[0].Name)
	assert.Equal(t, "<Shop> 4", o.Customer.Address[0])
	assert.Equal(t, "A", o.Consignee.Address[0])
	assert.False(t, o.PostAsOptional)
}
