package csvorders

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const semicolonExport = "\ufeffOS;Cliente;Telefone;Endereço;Bairro;Cidade;Valor Total;Latitude;Longitude;Observação\n" +
	"OS-10;Maria;64 99999-0000;Rua 7, 120;Centro;Rio Verde;1.234,56;-17,79;-50,92;portão azul\n" +
	";Sem OS;;;;;10;;;\n" +
	";;;;;;;;;\n" +
	"OS-11;João;;Av. Goiás;Setor Norte;Rio Verde;abc;;;\n" +
	"OS-12;Ana;;;;;;-95;-50;\n" +
	"OS-13;Pedro;;;;;R$ 80,00;;;\n"

func TestParseSemicolonExport(t *testing.T) {
	b, rows, err := Parse(strings.NewReader(semicolonExport), 0)
	if err != nil {
		t.Fatal(err)
	}
	if rows != 5 {
		t.Fatalf("rows = %d, blank line must not count", rows)
	}
	if len(b.Orders) != 3 {
		t.Fatalf("orders = %+v", b.Orders)
	}
	o := b.Orders[0]
	if o.ExternalRef != "OS-10" || o.Line != 2 {
		t.Fatalf("first order %+v", o)
	}
	in := o.Input
	if in.CustomerName != "Maria" || in.Address.Full != "Rua 7, 120" || in.Address.District != "Centro" || in.Observation != "portão azul" {
		t.Fatalf("input %+v", in)
	}
	if in.TotalValue != 1234.56 {
		t.Fatalf("total = %v", in.TotalValue)
	}
	if in.Address.Lat == nil || *in.Address.Lat != -17.79 || *in.Address.Lng != -50.92 {
		t.Fatalf("coords %v %v", in.Address.Lat, in.Address.Lng)
	}
	// an empty OS is left for the dispatcher to reject
	if b.Orders[1].Input.OSID != "" || b.Orders[2].Input.TotalValue != 80 {
		t.Fatalf("orders %+v", b.Orders[1:])
	}

	if len(b.Rejected) != 2 {
		t.Fatalf("rejected = %+v", b.Rejected)
	}
	if b.Rejected[0].ExternalRef != "OS-11" || b.Rejected[0].Line != 5 {
		t.Fatalf("bad total row %+v", b.Rejected[0])
	}
	if b.Rejected[1].ExternalRef != "OS-12" || !strings.Contains(b.Rejected[1].Error, "out of range") {
		t.Fatalf("bad coord row %+v", b.Rejected[1])
	}
}

func TestParseCommaHeaderAliases(t *testing.T) {
	in := "os_id,customer_name,address,total_value,deposit_id\n" +
		"A1,Bob,\"Rua 1, 10\",15.5,dep-1\n"
	b, _, err := Parse(strings.NewReader(in), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Orders) != 1 {
		t.Fatalf("orders = %+v rejected = %+v", b.Orders, b.Rejected)
	}
	got := b.Orders[0].Input
	if got.OSID != "A1" || got.Address.Full != "Rua 1, 10" || got.TotalValue != 15.5 || got.DepositID != "dep-1" {
		t.Fatalf("input %+v", got)
	}
}

func TestParseRequiresOSColumn(t *testing.T) {
	for _, in := range []string{"", "cliente;valor\nx;1\n"} {
		if _, _, err := Parse(strings.NewReader(in), 0); !errors.Is(err, ErrNoOSColumn) {
			t.Fatalf("%q: err = %v", in, err)
		}
	}
}

func TestSourceCursorAndAck(t *testing.T) {
	src, err := New("", strings.NewReader("os\nA\nB\n"))
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "csv" {
		t.Fatalf("name = %q", src.Name())
	}
	ctx := context.Background()
	b, err := src.FetchOrders(ctx, "")
	if err != nil || len(b.Orders) != 2 || b.Cursor != "2" {
		t.Fatalf("first fetch %+v %v", b, err)
	}
	b, err = src.FetchOrders(ctx, b.Cursor)
	if err != nil || len(b.Orders) != 0 {
		t.Fatalf("second fetch %+v %v", b, err)
	}
	if _, err := src.FetchOrders(ctx, "x"); err == nil {
		t.Fatal("bad cursor accepted")
	}
	_ = src.AckOrders(ctx, []string{"A"})
	if a := src.Acked(); len(a) != 1 || a[0] != "A" {
		t.Fatalf("acked = %v", a)
	}
}
