package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateBookingConfirmation(ctx context.Context, data BookingConfirmation) ([]byte, error) {
	if data.BookingCode == "" {
		return nil, fmt.Errorf("booking code is required for confirmation PDF")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(8, "Booking confirmation", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.BusinessName, props.Text{
			Size:  10,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Reference: "+data.BookingCode, props.Text{Top: 0}),
			text.New("Service: "+data.ServiceName, props.Text{Top: 5}),
			text.New("Date: "+visitTime(data), props.Text{Top: 10}),
			text.New("Frequency: "+data.Recurrence, props.Text{Top: 15}),
		),
		col.New(6).Add(addressBlock(data)...),
	)

	m.AddRow(10,
		text.NewCol(10, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(10, line.Description, props.Text{Size: 9}),
			text.NewCol(2, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, data.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Discounts", props.Text{Size: 9}),
		text.NewCol(2, "-"+data.TotalDiscount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, data.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if data.FirstBillingOn != "" {
		m.AddRow(12,
			text.NewCol(12, "Your card is charged on "+data.FirstBillingOn+", 48 hours before the visit.", props.Text{
				Size: 9,
				Top:  4,
			}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func visitTime(data BookingConfirmation) string {
	if data.ScheduledTime == "" {
		return data.ScheduledDate
	}
	return data.ScheduledDate + " " + data.ScheduledTime
}

func addressBlock(data BookingConfirmation) []core.Component {
	out := []core.Component{
		text.New(data.CustomerName, props.Text{Style: fontstyle.Bold}),
		text.New(data.CustomerEmail, props.Text{Top: 5}),
	}
	for i, line := range data.Address {
		out = append(out, text.New(line, props.Text{Top: float64(10 + i*5)}))
	}
	return out
}
