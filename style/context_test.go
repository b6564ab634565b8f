package style

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamitzky/sheetread/sheet"
)

func TestFormatCodeResolution(t *testing.T) {
	ctx := NewContext()
	ctx.AddFormat(164, "0.0")
	assert.Equal(t, 0, ctx.AddXF(164))
	assert.Equal(t, 1, ctx.AddXF(14))
	assert.Equal(t, 2, ctx.AddXF(999))
	assert.Equal(t, 3, ctx.XFCount())

	assert.Equal(t, "0.0", ctx.FormatCode(0))
	assert.Equal(t, "mm-dd-yy", ctx.FormatCode(1))
	assert.Equal(t, GeneralCode, ctx.FormatCode(2))
	assert.Equal(t, GeneralCode, ctx.FormatCode(-1))
	assert.Equal(t, GeneralCode, ctx.FormatCode(42))

	ctx.AddFormat(14, "yyyy")
	assert.Equal(t, "yyyy", ctx.FormatCode(1))
}

func TestContextRenderer(t *testing.T) {
	ctx := NewContext()
	ctx.AddSharedString("Title")
	ctx.AddSharedString("Desc")
	ctx.AddXF(0)
	ctx.AddXF(10)

	label := sheet.NewCell(0, 0)
	label.Type, label.SST = sheet.CellText, 1
	assert.Equal(t, "Desc", ctx.Value(label))
	assert.Equal(t, "Desc", ctx.Formatted(label))

	missing := sheet.NewCell(0, 1)
	missing.Type, missing.SST, missing.Value = sheet.CellText, 9, "inline"
	assert.Equal(t, "inline", ctx.Value(missing))

	pct := sheet.NewCell(1, 0)
	pct.Type, pct.Value, pct.XF = sheet.CellNumber, 0.125, 1
	assert.Equal(t, "12.50%", ctx.Formatted(pct))

	pct.Formatted = "cached"
	assert.Equal(t, "cached", ctx.Formatted(pct))

	f := sheet.NewCell(1, 1)
	f.Formula = "=A2*2"
	assert.Equal(t, "=A2*2", ctx.Formula(f))

	row := sheet.NewRow(1, []sheet.Cell{label, pct}, ctx)
	assert.Equal(t, "Desc", row.Value(0))
}

func TestContextElapsedTime(t *testing.T) {
	ctx := NewContext()
	ctx.AddXF(46)

	c := sheet.NewCell(0, 0)
	c.Type, c.Value, c.XF = sheet.CellNumber, 1.5, 0
	assert.Equal(t, Date, ctx.Code(0).Family())
	assert.Equal(t, "36:00:00", ctx.Formatted(c))
}

func TestContextConcurrentRender(t *testing.T) {
	ctx := NewContext()
	ctx.AddXF(4)

	c := sheet.NewCell(0, 0)
	c.Type, c.Value, c.XF = sheet.CellNumber, 1234.5, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "1,234.50", ctx.Formatted(c))
		}()
	}
	wg.Wait()
}

func TestSerialToTime(t *testing.T) {
	tests := []struct {
		serial   float64
		date1904 bool
		expected time.Time
	}{
		{45000.5, false, time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC)},
		{1, false, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{59, false, time.Date(1900, 2, 28, 0, 0, 0, 0, time.UTC)},
		{61, false, time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC)},
		{0.5, false, time.Date(1970, 1, 1, 12, 0, 0, 0, time.UTC)},
		{0, true, time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)},
		{1.25, true, time.Date(1904, 1, 2, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := SerialToTime(tt.serial, tt.date1904)
		require.NoError(t, err)
		assert.True(t, tt.expected.Equal(got), "SerialToTime(%v, %v) = %v", tt.serial, tt.date1904, got)
	}

	for _, bad := range []float64{-1, 2958466} {
		_, err := SerialToTime(bad, false)
		var dateErr *DateError
		assert.ErrorAs(t, err, &dateErr)
	}
}

func TestTimeToSerial(t *testing.T) {
	assert.Equal(t, 45000.5, TimeToSerial(time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC), false))
	assert.Equal(t, 59.0, TimeToSerial(time.Date(1900, 2, 28, 0, 0, 0, 0, time.UTC), false))
	assert.Equal(t, 61.0, TimeToSerial(time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC), false))
	assert.Equal(t, 0.0, TimeToSerial(time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC), true))
}
