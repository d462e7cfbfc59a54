package source

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TobiSchelling/BidScout/internal/database"
)

// Category names for the PNCP modalidade codes.
var CategoryNames = map[int]string{
	2:  "Diálogo Competitivo",
	3:  "Concurso",
	4:  "Concorrência Eletrônica",
	5:  "Concorrência Presencial",
	6:  "Pregão Eletrônico",
	7:  "Pregão Presencial",
	8:  "Dispensa de Licitação",
	9:  "Inexigibilidade",
	10: "Manifestação de Interesse",
	11: "Pré-Qualificação",
	12: "Credenciamento",
}

// CategoryName returns the display name for a category code.
func CategoryName(code int) string {
	if name, ok := CategoryNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Modalidade %d", code)
}

const dateLayout = "20060102"

// Axis is one independent collection dimension.
type Axis struct {
	Category int
	DateFrom time.Time
	DateTo   time.Time
	Region   string // empty means nationwide
}

func (a Axis) String() string {
	region := a.Region
	if region == "" {
		region = "BR"
	}
	return fmt.Sprintf("%d/%s/%s-%s", a.Category, region, a.DateFrom.Format(dateLayout), a.DateTo.Format(dateLayout))
}

// Axes expands categories × regions into collection axes. With no regions,
// each category is collected nationwide.
func Axes(categories []int, regions []string, from, to time.Time) []Axis {
	if len(regions) == 0 {
		regions = []string{""}
	}
	axes := make([]Axis, 0, len(categories)*len(regions))
	for _, c := range categories {
		for _, r := range regions {
			axes = append(axes, Axis{Category: c, DateFrom: from, DateTo: to, Region: strings.ToUpper(r)})
		}
	}
	return axes
}

// Page is one page of results.
type Page struct {
	Items      []Item
	HasMore    bool
	TotalCount int
}

type pageResponse struct {
	Data             []json.RawMessage `json:"data"`
	TotalRegistros   int               `json:"totalRegistros"`
	TotalPaginas     int               `json:"totalPaginas"`
	NumeroPagina     int               `json:"numeroPagina"`
	PaginasRestantes int               `json:"paginasRestantes"`
	Empty            bool              `json:"empty"`
}

type agency struct {
	CNPJ        string `json:"cnpj"`
	RazaoSocial string `json:"razaoSocial"`
}

type unit struct {
	UFSigla       string `json:"ufSigla"`
	MunicipioNome string `json:"municipioNome"`
	NomeUnidade   string `json:"nomeUnidade"`
}

// Item is one procurement notice as returned by the consultation API.
type Item struct {
	NumeroControlePNCP       string              `json:"numeroControlePNCP"`
	ObjetoCompra             string              `json:"objetoCompra"`
	ValorTotalEstimado       decimal.NullDecimal `json:"valorTotalEstimado"`
	ModalidadeID             int                 `json:"modalidadeId"`
	ModalidadeNome           string              `json:"modalidadeNome"`
	SituacaoCompraNome       string              `json:"situacaoCompraNome"`
	DataPublicacaoPncp       *string             `json:"dataPublicacaoPncp"`
	DataAberturaProposta     *string             `json:"dataAberturaProposta"`
	DataEncerramentoProposta *string             `json:"dataEncerramentoProposta"`
	LinkSistemaOrigem        *string             `json:"linkSistemaOrigem"`
	InformacaoComplementar   *string             `json:"informacaoComplementar"`
	OrgaoEntidade            agency              `json:"orgaoEntidade"`
	UnidadeOrgao             unit                `json:"unidadeOrgao"`

	raw json.RawMessage
}

// Record maps the item onto a store record.
func (it Item) Record() *database.Record {
	name := it.ModalidadeNome
	if name == "" {
		name = CategoryName(it.ModalidadeID)
	}
	r := &database.Record{
		ExternalID:     it.NumeroControlePNCP,
		Description:    it.ObjetoCompra,
		CategoryCode:   it.ModalidadeID,
		CategoryName:   name,
		RegionCode:     it.UnidadeOrgao.UFSigla,
		City:           it.UnidadeOrgao.MunicipioNome,
		AgencyName:     it.OrgaoEntidade.RazaoSocial,
		AgencyCNPJ:     it.OrgaoEntidade.CNPJ,
		EstimatedValue: it.ValorTotalEstimado,
		StatusName:     it.SituacaoCompraNome,
		PublishedAt:    it.DataPublicacaoPncp,
		OpeningAt:      it.DataAberturaProposta,
		ClosingAt:      it.DataEncerramentoProposta,
		OriginURL:      nonEmpty(it.LinkSistemaOrigem),
		ExtraInfo:      nonEmpty(it.InformacaoComplementar),
	}
	if len(it.raw) > 0 {
		raw := string(it.raw)
		r.RawJSON = &raw
	}
	return r
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
