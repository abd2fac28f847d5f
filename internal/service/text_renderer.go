package service

import (
	"bytes"
	"context"
	"fmt"
	"text/tabwriter"

	"procurement/internal/model"
)

// TextRenderer renders purchase orders as plain text documents.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, po model.PurchaseOrder) (Document, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "PURCHASE ORDER %s\n", po.PONumber)
	fmt.Fprintf(&buf, "Issued:  %s\n", po.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&buf, "Request: %s\n", po.PurchaseRequestID)
	if po.VendorName != "" {
		fmt.Fprintf(&buf, "Vendor:  %s\n", po.VendorName)
	}
	buf.WriteString("\n")

	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Description\tQty\tUnit price\tTotal\t")
	for _, it := range po.LineItems() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", it.Description, it.Quantity, it.UnitPrice.StringFixed(2), it.TotalPrice.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return Document{}, err
	}

	fmt.Fprintf(&buf, "\nTOTAL %s %s\n", po.TotalAmount.StringFixed(2), po.Currency)

	return Document{
		Name:        po.PONumber + ".txt",
		ContentType: "text/plain; charset=utf-8",
		Body:        buf.Bytes(),
	}, nil
}
