package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Gender is the catalog gender segment.
type Gender string

const (
	GenderUnspecified Gender = ""
	GenderMale        Gender = "MALE"
	GenderFemale      Gender = "FEMALE"
	GenderUnisex      Gender = "UNISEX"
)

// Category is the catalog product category.
type Category string

const (
	CategoryUnspecified Category = ""
	CategoryTops        Category = "TOPS"
	CategoryBottoms     Category = "BOTTOMS"
	CategoryAccessories Category = "ACCESSORIES"
	CategoryShoes       Category = "SHOES"
	CategoryDresses     Category = "DRESSES"
	CategoryUnderwear   Category = "UNDERWEAR"
	CategoryOther       Category = "OTHER"
)

// Fit is the catalog fit attribute.
type Fit string

const (
	FitUnspecified Fit = ""
	FitSlim        Fit = "SLIM"
	FitRegular     Fit = "REGULAR"
	FitLoose       Fit = "LOOSE"
	FitRelaxed     Fit = "RELAXED"
	FitOversized   Fit = "OVERSIZED"
	FitAthletic    Fit = "ATHLETIC"
	FitTailored    Fit = "TAILORED"
	FitBaggy       Fit = "BAGGY"
	FitCropped     Fit = "CROPPED"
)

// ScrapingMetadata carries ingestion provenance.
type ScrapingMetadata struct {
	ContentQualityCheck string
	PipelineRunID       string
}

// Product is the canonical catalog entity. The catalog store owns it; the
// vector indexes hold only a projection that must be refreshed through
// explicit update calls.
type Product struct {
	ID           string
	BrandID      string
	BrandName    string
	SubBrandID   string
	SubBrandName string
	Title        string
	URL          string

	Price         float64
	OriginalPrice float64 // zero when the product is not on sale

	Gender   Gender
	Category Category
	Fit      Fit
	Style    string

	Description          string
	GeneratedDescription string
	Details              string

	Colors    []string
	Materials []string
	Sizes     []string

	ImageURLs           []string
	S3ImageURLs         []string
	CompressedImageURLs []string
	HighresWebpURLs     []string

	IsKidProduct bool

	Scraping ScrapingMetadata
}

// PrimaryImageURL returns the first compressed image URL, or "" when the
// product has none.
func (p *Product) PrimaryImageURL() string {
	if len(p.CompressedImageURLs) == 0 {
		return ""
	}
	return p.CompressedImageURLs[0]
}

// HasRenderableImage reports whether the product has at least one archived
// image and therefore can be shown to an end user.
func (p *Product) HasRenderableImage() bool {
	return len(p.S3ImageURLs) > 0
}

// SparsePassage builds the lexical passage text indexed alongside the dense
// vector: title, colors, materials, category, style, gender, price, and the
// generated description in one line.
func (p *Product) SparsePassage() string {
	return fmt.Sprintf("%s %s %s %s %s %s %g %s",
		p.Title,
		strings.Join(p.Colors, ", "),
		strings.Join(p.Materials, ", "),
		p.Category,
		p.Style,
		p.Gender,
		p.Price,
		p.GeneratedDescription,
	)
}

// FullGeneratedDescription is the canonical per-product text for text
// embeddings and sparse passages: a stable JSON projection of the fields that
// describe the garment.
func (p *Product) FullGeneratedDescription() string {
	desc := struct {
		Title                string   `json:"title"`
		Gender               Gender   `json:"gender"`
		GeneratedDescription string   `json:"generated_description"`
		Colors               []string `json:"colors"`
		Materials            []string `json:"materials"`
		Category             Category `json:"category"`
		Style                string   `json:"style"`
		Fit                  Fit      `json:"fit"`
		BrandName            string   `json:"brandName"`
		SubBrandName         string   `json:"subBrandName,omitempty"`
	}{
		Title:                p.Title,
		Gender:               p.Gender,
		GeneratedDescription: p.GeneratedDescription,
		Colors:               p.Colors,
		Materials:            p.Materials,
		Category:             p.Category,
		Style:                p.Style,
		Fit:                  p.Fit,
		BrandName:            p.BrandName,
		SubBrandName:         p.SubBrandName,
	}
	b, err := json.Marshal(desc)
	if err != nil {
		// Marshalling a struct of strings cannot fail; fall back to the title.
		return p.Title
	}
	return string(b)
}

// MarkdownDescription renders the product as the markdown document used as
// the query text for similar-product search.
func (p *Product) MarkdownDescription() string {
	brand := p.BrandName
	if p.SubBrandName != "" {
		brand = fmt.Sprintf("%s (%s)", p.BrandName, p.SubBrandName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "**Brand:** %s\n", brand)
	fmt.Fprintf(&b, "**Price:** $%g\n", p.Price)
	fmt.Fprintf(&b, "**Gender:** %s\n\n", p.Gender)
	fmt.Fprintf(&b, "%s\n\n", p.GeneratedDescription)
	b.WriteString("## Details\n")
	fmt.Fprintf(&b, "- **Colors:** %s\n", orUnknown(strings.Join(p.Colors, ", ")))
	fmt.Fprintf(&b, "- **Materials:** %s\n", orUnknown(strings.Join(p.Materials, ", ")))
	fmt.Fprintf(&b, "- **Category:** %s\n", orUnknown(string(p.Category)))
	fmt.Fprintf(&b, "- **Style:** %s\n", orUnknown(p.Style))
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
