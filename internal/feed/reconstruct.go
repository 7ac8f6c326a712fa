package feed

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ── Graph reconstructor ────────────────────────────────────
// The bulk export is a flat stream: products, variants, metafields,
// collections and translations interleaved, each child pointing at its
// parent via __parentId, with no ordering guarantee between a parent
// line and its children. Reconstruction builds two indexes in one linear
// pass and resolves every product's subtree by key lookup — an
// arena-and-index walk, never a live pointer graph.

const (
	productSegment    = "/Product/"
	variantSegment    = "/ProductVariant/"
	metafieldSegment  = "/Metafield/"
	collectionSegment = "/Collection/"

	// Collection rows repeat in the stream once per owning product, so
	// they are re-keyed by id+parentId to keep every owner's copy.
	collectionGIDPrefix = "gid://shopify/Collection/"
)

// maxLineBytes caps a single export line. Metafield values can carry
// large JSON blobs; 16 MiB matches the platform's own value limit with
// headroom.
const maxLineBytes = 16 << 20

// Reconstructor turns a raw export stream into assembled product trees.
type Reconstructor struct {
	log *zap.SugaredLogger
}

// NewReconstructor returns a Reconstructor logging through log.
// A nil logger disables logging.
func NewReconstructor(log *zap.SugaredLogger) *Reconstructor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconstructor{log: log}
}

// objectIndex holds both indexes built by the first pass.
type objectIndex struct {
	byID     map[string]RawRecord
	order    []string            // insertion order of first occurrence
	children map[string][]string // parent id → child keys, stream order
}

func newObjectIndex() *objectIndex {
	return &objectIndex{
		byID:     make(map[string]RawRecord),
		children: make(map[string][]string),
	}
}

// add indexes one record under its identity and, when it carries a
// parent reference, appends it to that parent's child list.
func (ix *objectIndex) add(rec RawRecord) {
	key := rec.ID()
	if strings.HasPrefix(key, collectionGIDPrefix) {
		key += rec.ParentID()
	}
	if _, seen := ix.byID[key]; !seen {
		ix.order = append(ix.order, key)
	}
	ix.byID[key] = rec

	if pid := rec.ParentID(); pid != "" {
		ix.children[pid] = append(ix.children[pid], key)
	}
}

// Reconstruct consumes a line-delimited JSON stream (already
// decompressed) and returns every root product, fully assembled, in
// first-occurrence stream order. Malformed lines are logged and skipped;
// children referencing unknown parents are silently dropped.
func (r *Reconstructor) Reconstruct(in io.Reader) ([]RawRecord, error) {
	ix := newObjectIndex()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			r.log.Warnw("skipping malformed export line", "line", lineNum, "error", err)
			continue
		}
		if rec.ID() == "" {
			r.log.Warnw("skipping export line without id", "line", lineNum)
			continue
		}
		ix.add(rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var products []RawRecord
	for _, key := range ix.order {
		if strings.Contains(key, productSegment) && !strings.Contains(key, collectionSegment) {
			products = append(products, r.assembleProduct(key, ix))
		}
	}
	return products, nil
}

// assembleProduct partitions a product's direct children into variants,
// metafields and collection memberships, then merges translations.
func (r *Reconstructor) assembleProduct(key string, ix *objectIndex) RawRecord {
	var (
		collections = []any{}
		variants    = []any{}
		metafields  = []any{}
	)

	for _, childKey := range ix.children[key] {
		switch {
		case strings.Contains(childKey, collectionSegment):
			// Copy before the translation merge: the same collection may
			// be owned by several products and each owner gets its own
			// translated view.
			collection := ix.byID[childKey].Copy()
			mergeTranslations(collection, false)
			collections = append(collections, map[string]any(collection))
		case strings.Contains(childKey, variantSegment):
			variants = append(variants, map[string]any(r.assembleVariant(childKey, ix)))
		case strings.Contains(childKey, metafieldSegment):
			// Direct metafields only: a metafield nested under a variant
			// carries the variant as __parentId and is picked up there.
			mf := ix.byID[childKey]
			if strings.Contains(mf.ParentID(), productSegment) {
				metafields = append(metafields, map[string]any(mf))
			}
		}
	}

	product := ix.byID[key]
	mergeTranslations(product, true)
	product["collections"] = collections
	product["variants"] = variants
	product["metafields"] = metafields
	return product
}

// assembleVariant attaches a variant's own metafields, scoped to that
// variant only.
func (r *Reconstructor) assembleVariant(key string, ix *objectIndex) RawRecord {
	metafields := []any{}
	for _, childKey := range ix.children[key] {
		if !strings.Contains(childKey, metafieldSegment) {
			continue
		}
		mf := ix.byID[childKey]
		if strings.Contains(mf.ParentID(), variantSegment) {
			metafields = append(metafields, map[string]any(mf))
		}
	}
	variant := ix.byID[key]
	variant["metafields"] = metafields
	return variant
}

// mergeTranslations applies locale-tagged {locale, key, value} overrides
// onto the entity, records the contributing locales as a single
// "translation_done" field (sorted, hyphen-joined) and removes the raw
// translation list. On products the storefront's long-form key
// "body_html" maps onto "descriptionHtml"; collections keep keys as-is.
func mergeTranslations(entity RawRecord, isProduct bool) {
	raw, ok := entity["translations"].([]any)
	if !ok || len(raw) == 0 {
		return
	}

	localeSet := make(map[string]struct{})
	for _, t := range raw {
		tr, ok := asMap(t)
		if !ok {
			continue
		}
		key, _ := tr["key"].(string)
		locale, _ := tr["locale"].(string)
		if key == "" || locale == "" {
			continue
		}
		localeSet[locale] = struct{}{}
		if isProduct && key == "body_html" {
			entity["descriptionHtml"] = tr["value"]
		} else {
			entity[key] = tr["value"]
		}
	}

	locales := make([]string, 0, len(localeSet))
	for l := range localeSet {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	entity["translation_done"] = strings.Join(locales, "-")
	delete(entity, "translations")
}
