package catalog

import "github.com/ajitpratap0/orodw/pkg/query"

const defaultStatus = "Sin estado"

// Facts returns the order line and payment facts.
func Facts() []*query.Target {
	return []*query.Target{salesLines(), payments()}
}

func salesLines() *query.Target {
	return &query.Target{
		Name:  "fact_ventas_linea",
		Kind:  query.KindFact,
		Table: "oro_order_line_item_granular",
		Alias: "li",
		Joins: []query.Join{
			{Alias: "o", Table: "oro_order_granular", ParentKey: []string{"order_id"}, Key: []string{"id"}},
		},
		Columns: []query.Mapping{
			{Name: "order_id", Candidates: []string{"o.id", "order_id"}, Type: query.TypeBigint, Coalesce: true},
			{Name: "line_item_id", Candidates: []string{"line_item_id", "id"}, Type: query.TypeBigint, Required: true},
			{Name: "product_id", Candidates: []string{"product_id"}, Type: query.TypeBigint},
			{Name: "sku", Candidates: []string{"product_sku", "sku"}, Type: query.TypeText},
			{Name: "product_unit", Candidates: []string{"product_unit_code", "product_unit"}, Type: query.TypeText},
			{Name: "quantity", Candidates: []string{"quantity"}, Type: query.TypeNumeric},
			{Name: "precio_unitario", Candidates: []string{"price", "value"}, Type: query.TypeNumeric},
			{Name: "subtotal_linea", Candidates: []string{"row_total", "subtotal"}, Type: query.TypeNumeric,
				Derived: &query.Derived{Op: query.OpMul, Operands: []string{"quantity", "price"}}},
			{Name: "descuento_linea", Candidates: []string{"discount_amount"}, Type: query.TypeNumeric},
			{Name: "impuestos_linea", Candidates: []string{"tax_amount"}, Type: query.TypeNumeric},
			{Name: "currency_code", Candidates: []string{"o.currency", "currency"}, Type: query.TypeText, Coalesce: true},
			{Name: "fecha_creacion_pedido", Candidates: []string{"o.created_at"}, Type: query.TypeTimestamp},
			{Name: "fecha_actualizacion_pedido", Candidates: []string{"o.updated_at"}, Type: query.TypeTimestamp},
			{Name: "website_id", Candidates: []string{"o.website_id"}, Type: query.TypeBigint},
			{Name: "customer_id", Candidates: []string{"o.customer_id"}, Type: query.TypeBigint},
			{Name: "usuario_owner_id", Candidates: []string{"o.user_owner_id"}, Type: query.TypeBigint},
			{Name: "estado_pedido", Candidates: []string{"o.internal_status_name", "o.status"}, Type: query.TypeText, Default: defaultStatus},
		},
		Incremental: &query.Incremental{
			Key:       "order_lines",
			Columns:   []string{"fecha_actualizacion_pedido", "fecha_creacion_pedido"},
			Watermark: []string{"fecha_actualizacion_pedido", "fecha_creacion_pedido"},
		},
	}
}

func payments() *query.Target {
	return &query.Target{
		Name:  "fact_pago",
		Kind:  query.KindFact,
		Table: "oro_payment_transaction_granular",
		Columns: []query.Mapping{
			{Name: "transaction_id", Candidates: []string{"transaction_id", "id"}, Type: query.TypeBigint, Required: true},
			{Name: "order_id", Candidates: []string{"order_id", "entity_identifier"}, Type: query.TypeBigint},
			{Name: "monto", Candidates: []string{"amount"}, Type: query.TypeNumeric},
			{Name: "currency_code", Candidates: []string{"currency"}, Type: query.TypeText},
			{Name: "tipo_accion", Candidates: []string{"action"}, Type: query.TypeText},
			{Name: "payment_method", Candidates: []string{"payment_method"}, Type: query.TypeText},
			{Name: "status_raw", Candidates: []string{"status"}, Type: query.TypeText},
			{Name: "es_exitoso", Candidates: []string{"successful", "is_successful"}, Type: query.TypeBoolean},
			{Name: "created_at", Candidates: []string{"created_at"}, Type: query.TypeTimestamp},
			{Name: "updated_at", Candidates: []string{"updated_at"}, Type: query.TypeTimestamp},
		},
		Incremental: &query.Incremental{
			Key:     "payments",
			Columns: []string{"updated_at", "created_at"},
		},
	}
}

// Quotes returns the quote header and quote line facts.
func Quotes() []*query.Target {
	return []*query.Target{quoteHeaders(), quoteLines()}
}

func quoteHeaders() *query.Target {
	return &query.Target{
		Name:  "fact_cotizacion",
		Kind:  query.KindFact,
		Table: "oro_sale_quote",
		Columns: []query.Mapping{
			{Name: "quote_id", Candidates: []string{"id"}, Type: query.TypeBigint, Required: true},
			{Name: "customer_id", Candidates: []string{"customer_id"}, Type: query.TypeBigint},
			{Name: "customer_user_id", Candidates: []string{"customer_user_id"}, Type: query.TypeBigint},
			{Name: "website_id", Candidates: []string{"website_id"}, Type: query.TypeBigint},
			{Name: "po_number", Candidates: []string{"po_number"}, Type: query.TypeText},
			{Name: "currency_code", Candidates: []string{"currency", "base_currency", "subtotal_currency", "total_currency"}, Type: query.TypeText},
			{Name: "subtotal", Candidates: []string{"subtotal", "subtotal_value", "base_subtotal_value"}, Type: query.TypeNumeric},
			{Name: "total", Candidates: []string{"total", "total_value", "base_total_value"}, Type: query.TypeNumeric},
			{Name: "created_at", Candidates: []string{"created_at", "createdat"}, Type: query.TypeTimestamp},
			{Name: "updated_at", Candidates: []string{"updated_at", "updatedat"}, Type: query.TypeTimestamp},
			{Name: "estado", Candidates: []string{"internal_status_name", "status", "status_name"}, Type: query.TypeText, Default: defaultStatus},
		},
		Incremental: &query.Incremental{
			Key:     "quotes",
			Default: true,
			Columns: []string{"updated_at", "created_at"},
		},
	}
}

func quoteLines() *query.Target {
	return &query.Target{
		Name:  "fact_cotizacion_linea",
		Kind:  query.KindFact,
		Table: "oro_sale_quote_product",
		Alias: "qp",
		Joins: []query.Join{
			{Alias: "req", Table: "oro_sale_quote_prod_request", Kind: query.JoinMinChild,
				ParentKey: []string{"id"}, Key: []string{"quote_product_id"}, ID: []string{"id"}},
			{Alias: "off", Table: "oro_sale_quote_prod_offer", Kind: query.JoinMinChild, Parent: "req",
				ParentKey: []string{"id"}, Key: []string{"quote_product_request_id"}, ID: []string{"id"}},
			{Alias: "sq", Table: "oro_sale_quote", ParentKey: []string{"quote_id"}, Key: []string{"id"}},
		},
		Columns: []query.Mapping{
			{Name: "quote_id", Candidates: []string{"quote_id"}, Type: query.TypeBigint},
			{Name: "quote_product_id", Candidates: []string{"id"}, Type: query.TypeBigint, Required: true},
			{Name: "product_id", Candidates: []string{"product_id"}, Type: query.TypeBigint},
			{Name: "sku", Candidates: []string{"product_sku", "sku"}, Type: query.TypeText},
			{Name: "product_unit", Candidates: []string{
				"product_unit_code", "unit_code", "product_unit",
				"req.product_unit_code", "req.unit_code", "req.product_unit",
			}, Type: query.TypeText},
			{Name: "request_id", Candidates: []string{"req.id"}, Type: query.TypeBigint},
			{Name: "quantity", Candidates: []string{"req.quantity", "req.qty"}, Type: query.TypeNumeric},
			{Name: "offer_id", Candidates: []string{"off.id"}, Type: query.TypeBigint},
			{Name: "price", Candidates: []string{"off.price", "off.value", "off.amount"}, Type: query.TypeNumeric},
			{Name: "currency_code", Candidates: []string{"off.currency", "off.price_currency"}, Type: query.TypeText},
			{Name: "quote_created_at", Candidates: []string{"sq.created_at", "sq.createdat"}, Type: query.TypeTimestamp},
			{Name: "quote_updated_at", Candidates: []string{"sq.updated_at", "sq.updatedat"}, Type: query.TypeTimestamp},
		},
		Incremental: &query.Incremental{
			Key:     "quotes",
			Default: true,
			Columns: []string{"quote_updated_at", "quote_created_at"},
		},
	}
}

// Dimensions returns one passthrough target per granular view.
func Dimensions() []*query.Target {
	views := []struct{ name, table string }{
		{"dim_producto", "oro_product_granular"},
		{"dim_cliente", "oro_customer_granular"},
		{"dim_usuario", "oro_user_granular"},
		{"dim_sitio_web", "oro_website_granular"},
		{"dim_canal", "orocrm_channel_granular"},
		{"dim_precio_lista", "oro_price_list_granular"},
		{"dim_promocion", "oro_promotion_granular"},
		{"dim_pago_status", "oro_payment_status_granular"},
	}
	out := make([]*query.Target, 0, len(views))
	for _, v := range views {
		out = append(out, &query.Target{
			Name:        v.name,
			Kind:        query.KindDimension,
			Table:       v.table,
			Passthrough: true,
		})
	}
	return out
}
