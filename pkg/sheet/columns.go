// Package sheet encodes remote listings into the fixed-column spreadsheet layout
// and decodes edited sheets back into catalog listings.
package sheet

// Column positions. The order is part of the file format.
const (
	ColListingID = iota
	ColTitle
	ColDescription
	ColStatus
	ColTags
	ColVariation
	ColProp1Name
	ColProp1Value
	ColProp2Name
	ColProp2Value
	ColPrice
	ColCurrency
	ColQuantity
	ColSKU
	ColVariationPrice
	ColVariationQuantity
	ColVariationSKU
	ColMaterials
	ColShippingProfileID
	ColProcessingMin
	ColProcessingMax
	ColProductID
	ColProp1ID
	ColProp1OptionIDs
	ColProp2ID
	ColProp2OptionIDs

	NumColumns
)

var Header = []string{
	"Listing ID",
	"Title",
	"Description",
	"Status",
	"Tags",
	"Variation",
	"Property 1 Name",
	"Property 1 Value",
	"Property 2 Name",
	"Property 2 Value",
	"Price",
	"Currency",
	"Quantity",
	"SKU",
	"Variation Price",
	"Variation Quantity",
	"Variation SKU",
	"Materials",
	"Shipping Profile ID",
	"Processing Min",
	"Processing Max",
	"Product ID",
	"Property 1 ID",
	"Property 1 Option IDs",
	"Property 2 ID",
	"Property 2 Option IDs",
}

// advisoryRows precede the header. Decode ignores them.
var advisoryRows = []string{
	"# Edit the rows below, then upload this file to preview your changes. Leave Listing ID empty to create a new listing.",
	"# Listing-level fields are read from the first row of each listing only. Rows below it with the same Listing ID are variations.",
	"# Type DELETE in SKU to delete a listing, or in Variation SKU to delete a single variation. Do not edit the ID columns.",
}

const (
	// NoVariation fills the Variation column of listings without variations.
	NoVariation = "N/A"
	// DeleteSentinel in a SKU column requests deletion. Matched case-insensitively.
	DeleteSentinel = "DELETE"

	// listSep joins tags, materials and option ids inside a single cell.
	listSep = ", "

	// headerSearchRows bounds how far down Decode looks for the header row.
	headerSearchRows = 10
	// minRowCells is the shortest row still treated as data.
	minRowCells = 2
	minRows     = 2
)

// Custom property ids for variation properties created from the sheet
// without a known remote property id.
const (
	CustomPropertyID1 int64 = 513
	CustomPropertyID2 int64 = 514
)
