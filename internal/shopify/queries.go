package shopify

import "strings"

// ── Bulk operation queries ─────────────────────────────────
// The export is driven by the Admin GraphQL Bulk Operation API: a
// mutation wraps the nested product query, the platform streams every
// connection as flat JSONL lines chained by __parentId.

const exportDataJob = `mutation ExportDataJob {
  bulkOperationRunQuery(
    query: """
    {
      products {
        edges {
          node {
            id
            handle
            title
            vendor
            productType
            status
            tags
            totalInventory
            descriptionHtml
            createdAt
            updatedAt
            onlineStoreUrl
            featuredImage { url altText }
            priceRangeV2 {
              minVariantPrice { amount currencyCode }
              maxVariantPrice { amount currencyCode }
            }
            options { name values }
            collections {
              edges {
                node {
                  id
                  handle
                  title
                }
              }
            }
            metafields {
              edges {
                node {
                  id
                  namespace
                  key
                  type
                  value
                }
              }
            }
            variants {
              edges {
                node {
                  id
                  sku
                  title
                  price
                  compareAtPrice
                  availableForSale
                  inventoryQuantity
                  barcode
                  image { url }
                  selectedOptions { name value }
                  metafields {
                    edges {
                      node {
                        id
                        namespace
                        key
                        type
                        value
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
    """
  ) {
    bulkOperation { id }
    userErrors { field message }
  }
}`

// exportDataJobTranslations adds per-resource translations in the given
// locale; used for multi-market feeds.
const exportDataJobTranslations = `mutation ExportDataJob {
  bulkOperationRunQuery(
    query: """
    {
      products {
        edges {
          node {
            id
            handle
            title
            vendor
            productType
            status
            tags
            totalInventory
            descriptionHtml
            featuredImage { url altText }
            translations(locale: "{language}") { locale key value }
            collections {
              edges {
                node {
                  id
                  handle
                  title
                  translations(locale: "{language}") { locale key value }
                }
              }
            }
            metafields {
              edges {
                node { id namespace key type value }
              }
            }
            variants {
              edges {
                node {
                  id
                  sku
                  title
                  price
                  compareAtPrice
                  availableForSale
                  image { url }
                  selectedOptions { name value }
                  metafields {
                    edges {
                      node { id namespace key type value }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
    """
  ) {
    bulkOperation { id }
    userErrors { field message }
  }
}`

// exportDataJobDelta restricts the export to products updated since the
// given timestamp; used by scheduled delta feeds.
const exportDataJobDelta = `mutation ExportDataJob {
  bulkOperationRunQuery(
    query: """
    {
      products(query: "updated_at:>='{start_date}'") {
        edges {
          node {
            id
            handle
            title
            vendor
            productType
            status
            tags
            totalInventory
            descriptionHtml
            featuredImage { url altText }
            collections {
              edges {
                node { id handle title }
              }
            }
            metafields {
              edges {
                node { id namespace key type value }
              }
            }
            variants {
              edges {
                node {
                  id
                  sku
                  title
                  price
                  compareAtPrice
                  availableForSale
                  image { url }
                  selectedOptions { name value }
                  metafields {
                    edges {
                      node { id namespace key type value }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
    """
  ) {
    bulkOperation { id }
    userErrors { field message }
  }
}`

// marketProductsJob exports publication→market→rootUrls plus the
// products published to each publication.
const marketProductsJob = `mutation MarketProductsJob {
  bulkOperationRunQuery(
    query: """
    {
      publications {
        edges {
          node {
            id
            catalog {
              ... on MarketCatalog {
                markets(first: 50) {
                  edges {
                    node {
                      id
                      handle
                      name
                      webPresence { rootUrls { locale url } }
                    }
                  }
                }
              }
            }
            products {
              edges {
                node { id handle title }
              }
            }
          }
        }
      }
    }
    """
  ) {
    bulkOperation { id }
    userErrors { field message }
  }
}`

const getJob = `query GetJob($job_id: ID!) {
  node(id: $job_id) {
    ... on BulkOperation {
      id
      status
      errorCode
      objectCount
      url
    }
  }
}`

func renderQuery(q string, vars map[string]string) string {
	for k, v := range vars {
		q = strings.ReplaceAll(q, "{"+k+"}", v)
	}
	return q
}
