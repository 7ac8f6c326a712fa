package feed

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// ── Catalog attribute deriver ──────────────────────────────
// Converts an assembled product tree into the downstream catalog record:
// {id, attributes, variants}. Runs in two stages, mirroring the feed
// contract: a generic stage that only namespaces and restructures, and a
// catalog stage that flattens and computes the business fields
// (pricing, availability, URLs, category paths).

// Namespace prefixes for generic attributes. Metafields get the
// namespace plus "m." (so "sp" → "spm.", "sv" → "svm.").
const (
	productNamespace = "sp"
	variantNamespace = "sv"
)

// NoIdentifierFound is the sentinel id used when no candidate field and
// no intrinsic id resolve.
const NoIdentifierFound = "NOIDENTIFIERFOUND"

// DeriveConfig carries the per-catalog derivation knobs. Zero values
// fall back to the platform defaults ("handle" for products, "sku,id"
// for variants).
type DeriveConfig struct {
	ProductIDProps []string // candidate identifier fields for products
	VariantIDProps []string // candidate identifier fields for variants
	StorefrontHost string   // e.g. "xyz.myshopify.com"
	Market         string   // primary market handle (multi-market only)
	Language       string   // primary locale (multi-market only)
}

func (c DeriveConfig) productIDProps() []string {
	if len(c.ProductIDProps) == 0 {
		return []string{"handle"}
	}
	return c.ProductIDProps
}

func (c DeriveConfig) variantIDProps() []string {
	if len(c.VariantIDProps) == 0 {
		return []string{"sku", "id"}
	}
	return c.VariantIDProps
}

// OutputVariant is one sellable variant of an output product.
type OutputVariant struct {
	Attributes map[string]any `json:"attributes"`
}

// OutputProduct is one line of the feed patch input: a structurally
// complete record with a non-nil attribute map and a (possibly empty)
// variants map keyed by resolved variant key.
type OutputProduct struct {
	ID         string                   `json:"id"`
	Attributes map[string]any           `json:"attributes"`
	Variants   map[string]OutputVariant `json:"variants"`
}

// genericProduct is the intermediate between the two stages: namespaced
// but not yet flattened.
type genericProduct struct {
	ID         string
	Attributes map[string]any
	Variants   []genericVariant
}

type genericVariant struct {
	ID         string
	Attributes map[string]any
}

// productMappings copies selected namespaced attributes onto reserved
// catalog fields after flattening.
var productMappings = []struct {
	source string
	dest   string
	apply  func(any) any
}{
	{"sp.vendor", "brand", func(v any) any { return v }},
	{"sp.descriptionHtml", "description", trimText},
	{"sp.title", "title", func(v any) any { return v }},
}

func trimText(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

// Deriver derives output records from assembled product trees.
type Deriver struct {
	cfg  DeriveConfig
	flat *Flattener
	log  *zap.SugaredLogger
}

// NewDeriver builds a Deriver. flat may be nil for the default
// flattening policy; log may be nil to disable logging.
func NewDeriver(cfg DeriveConfig, flat *Flattener, log *zap.SugaredLogger) *Deriver {
	if flat == nil {
		flat = &Flattener{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Deriver{cfg: cfg, flat: flat, log: log}
}

// Derive runs both stages over one assembled product. markets may be
// nil; enrichment is best-effort and an unmatched product passes
// through unchanged.
func (d *Deriver) Derive(product RawRecord, markets *MarketStore) OutputProduct {
	return d.catalogProduct(d.genericProduct(product), markets)
}

// ── Generic stage ──────────────────────────────────────────

func (d *Deriver) genericProduct(product RawRecord) genericProduct {
	gp := genericProduct{
		ID:         resolveIdentifier(product, d.cfg.productIDProps()),
		Attributes: d.genericAttributes(product, productNamespace),
	}
	if variants, ok := product["variants"].([]any); ok {
		for _, v := range variants {
			vm, ok := asMap(v)
			if !ok {
				continue
			}
			gp.Variants = append(gp.Variants, genericVariant{
				ID:         resolveIdentifier(RawRecord(vm), d.cfg.variantIDProps()),
				Attributes: d.genericAttributes(vm, variantNamespace),
			})
		}
	}
	return gp
}

// resolveIdentifier tries each candidate field in order and takes the
// first present, non-empty value; falls back to the intrinsic "id", and
// finally to the NOIDENTIFIERFOUND sentinel.
func resolveIdentifier(obj RawRecord, candidates []string) string {
	for _, c := range candidates {
		if v, ok := obj[c]; ok && !IsEmptyValue(v) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	if id := obj.ID(); id != "" {
		return id
	}
	return NoIdentifierFound
}

// genericAttributes namespaces every scalar property under ns+"." and
// projects the structured children (metafields, collections) into their
// dedicated attribute shapes.
func (d *Deriver) genericAttributes(obj map[string]any, ns string) map[string]any {
	attrs := make(map[string]any, len(obj))
	for k, v := range obj {
		switch {
		case strings.Contains(k, "variants"):
			// Variants are emitted as their own records, never inlined.
		case strings.Contains(k, "metafields"):
			d.metafieldAttributes(attrs, ns, v)
		case strings.Contains(k, "collections"):
			attrs["category_paths"] = categoryPaths(v)
		default:
			attrs[ns+"."+k] = v
		}
	}
	return attrs
}

// metafieldAttributes exposes each metafield as
// {ns}m.{metafield namespace}.{key}. A declared list type has its
// textual value parsed as JSON; if that parse fails the raw text is kept
// rather than dropping merchant data.
func (d *Deriver) metafieldAttributes(attrs map[string]any, ns string, v any) {
	list, ok := v.([]any)
	if !ok {
		return
	}
	for _, item := range list {
		mf, ok := asMap(item)
		if !ok {
			continue
		}
		mfNS, _ := mf["namespace"].(string)
		mfKey, _ := mf["key"].(string)
		mfType, _ := mf["type"].(string)
		name := ns + "m." + mfNS + "." + mfKey

		value := mf["value"]
		if text, isText := value.(string); isText && strings.Contains(mfType, "list") {
			var parsed any
			if err := json.Unmarshal([]byte(text), &parsed); err == nil {
				value = parsed
			} else {
				d.log.Debugw("metafield list value is not valid JSON, keeping raw text",
					"metafield", name, "error", err)
			}
		}
		attrs[name] = value
	}
}

// categoryPaths projects collection memberships into a flat, one-level
// taxonomy: one single-element path per collection, carrying its stable
// handle and display title.
func categoryPaths(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	paths := make([]any, 0, len(list))
	for _, item := range list {
		c, ok := asMap(item)
		if !ok {
			continue
		}
		paths = append(paths, []any{map[string]any{
			"id":   c["handle"],
			"name": c["title"],
		}})
	}
	return paths
}

// ── Catalog stage ──────────────────────────────────────────

func (d *Deriver) catalogProduct(gp genericProduct, markets *MarketStore) OutputProduct {
	out := OutputProduct{
		ID:         gp.ID,
		Attributes: d.flat.Flatten(gp.Attributes, ""),
		Variants:   map[string]OutputVariant{},
	}
	pa := out.Attributes

	// Base product URL comes from the un-flattened handle; the primary
	// market may overwrite it below.
	if handle, ok := gp.Attributes["sp.handle"].(string); ok && handle != "" && d.cfg.StorefrontHost != "" {
		pa["url"] = "https://" + d.cfg.StorefrontHost + "/products/" + handle
	}

	// Availability: active lifecycle status and strictly positive total
	// inventory. Always set, never omitted.
	pa["availability"] = false
	if status, _ := gp.Attributes["sp.status"].(string); status == "ACTIVE" {
		if inv, ok := toFloat(gp.Attributes["sp.totalInventory"]); ok && inv > 0 {
			pa["availability"] = true
		}
	}

	if img, ok := pa[NormalizeKey("sp.featuredImage.url")]; ok {
		pa["thumb_image"] = img
	}

	for _, m := range productMappings {
		if v, ok := pa[NormalizeKey(m.source)]; ok {
			if mapped := m.apply(v); !IsEmptyValue(mapped) {
				pa[NormalizeKey(m.dest)] = mapped
			}
		}
	}

	d.deriveVariants(&out, gp)
	d.derivePriceRange(&out)

	if markets != nil {
		d.mergeMarkets(&out, markets)
	}

	out.Attributes = cleanAttributes(pa)
	if out.Attributes == nil {
		out.Attributes = map[string]any{}
	}
	return out
}

func (d *Deriver) deriveVariants(out *OutputProduct, gp genericProduct) {
	for _, gv := range gp.Variants {
		key := variantKey(gv)
		attrs := d.flat.Flatten(gv.Attributes, "")
		if len(attrs) == 0 {
			// A variant whose every property was empty carries no signal
			// for the catalog; drop it entirely.
			continue
		}

		derivePricing(attrs)

		if img, ok := attrs[NormalizeKey("sv.image.url")]; ok {
			attrs["thumb_image"] = img
		}

		attrs["availability"] = false
		if avail, ok := attrs[NormalizeKey("sv.availableForSale")].(bool); ok && avail {
			attrs["availability"] = true
		}

		attrs = cleanAttributes(attrs)
		if len(attrs) == 0 {
			continue
		}
		out.Variants[key] = OutputVariant{Attributes: attrs}
	}
}

// variantKey prefers the stock-keeping code; an empty or missing sku
// falls back to the numeric tail of the variant's resource identifier.
func variantKey(gv genericVariant) string {
	if sku, ok := gv.Attributes["sv.sku"].(string); ok && sku != "" {
		return sku
	}
	id, _ := gv.Attributes["sv.id"].(string)
	return GIDTail(id)
}

// derivePricing computes price/sale_price from the standard price and
// the strike-through ("compare at") price:
//
//	compare == price  → price only
//	compare != price  → price = compare, sale_price = standard
//	compare missing   → price = standard
//
// Coercion failure on a required input omits the derived fields.
func derivePricing(attrs map[string]any) {
	priceKey := NormalizeKey("sv.price")
	compareKey := NormalizeKey("sv.compareAtPrice")

	if raw, present := attrs[compareKey]; present && !IsEmptyValue(raw) {
		compare, cok := toFloat(raw)
		price, pok := toFloat(attrs[priceKey])
		if cok && pok {
			attrs["price"] = compare
			if compare != price {
				attrs["sale_price"] = price
			}
		}
		return
	}
	if raw, present := attrs[priceKey]; present {
		if price, ok := toFloat(raw); ok {
			attrs["price"] = price
		}
	}
}

// derivePriceRange sets the root price to the minimum variant price and
// price_range_max to the maximum, omitted when it equals the minimum.
func (d *Deriver) derivePriceRange(out *OutputProduct) {
	var (
		minPrice, maxPrice float64
		found              bool
	)
	for _, v := range out.Variants {
		p, ok := toFloat(v.Attributes["price"])
		if !ok {
			continue
		}
		if !found || p < minPrice {
			minPrice = p
		}
		if !found || p > maxPrice {
			maxPrice = p
		}
		found = true
	}
	if !found {
		return
	}
	out.Attributes["price"] = minPrice
	if maxPrice != minPrice {
		out.Attributes["price_range_max"] = maxPrice
	}
}

// cleanAttributes re-normalizes keys and strips empty values. Key
// collisions introduced by normalization are last-write-wins.
func cleanAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if !IsEmptyValue(v) {
			out[NormalizeKey(k)] = v
		}
	}
	return out
}

// toFloat coerces JSON scalars to float64 for price/inventory math.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f := coerceFloat(n)
		if f == nil {
			return 0, false
		}
		return f.(float64), true
	default:
		return 0, false
	}
}
