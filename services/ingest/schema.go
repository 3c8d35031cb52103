package ingest

import (
	"fmt"
	"strings"
)

// Mode selects the persistence strategy for a sub-schema.
type Mode string

const (
	// ModeUpsert keeps one row per protocollo, latest extraction wins.
	ModeUpsert Mode = "upsert"
	// ModeAppend keeps every distinct value combination as its own row,
	// deduplicated by content fingerprint.
	ModeAppend Mode = "append"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeUpsert:
		return ModeUpsert, nil
	case ModeAppend:
		return ModeAppend, nil
	}
	return "", fmt.Errorf("unknown persistence mode %q", s)
}

// SubSchema is one of the fixed record shapes extracted from the
// portal. The field list is the canonical field order, the key field
// is kept separate and never participates in fingerprints.
type SubSchema struct {
	Name   string
	Key    string
	Fields []string
}

// Table returns the backing table name for a persistence mode. The
// append-only tables carry a `_records` suffix so both modes can
// coexist in one database file.
func (s SubSchema) Table(mode Mode) string {
	if mode == ModeAppend {
		return s.Name + "_records"
	}
	return s.Name
}

func (s SubSchema) columns() []string {
	return append([]string{s.Key}, s.Fields...)
}

// CreateSQL builds the DDL for the sub-schema under the given mode.
// Field names are fixed snake_case identifiers declared below, they
// never come from scraped input.
func (s SubSchema) CreateSQL(mode Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.Table(mode))
	if mode == ModeAppend {
		b.WriteString("  id INTEGER PRIMARY KEY AUTOINCREMENT,\n")
		fmt.Fprintf(&b, "  %s TEXT NOT NULL,\n", s.Key)
	} else {
		fmt.Fprintf(&b, "  %s TEXT PRIMARY KEY,\n", s.Key)
	}
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "  %s TEXT,\n", f)
	}
	if mode == ModeAppend {
		b.WriteString("  fingerprint TEXT NOT NULL UNIQUE\n")
	} else {
		b.WriteString("  fingerprint TEXT\n")
	}
	b.WriteString(")")
	return b.String()
}

// RichiestaContratto is the request header panel, keyed by the
// protocollo shown in the dashboard listing.
var RichiestaContratto = SubSchema{
	Name: "richiesta_contratto",
	Key:  "protocollo",
	Fields: []string{
		"avanzamento", "inserita_il", "prodotto",
		"assegnata_a", "richiedente", "referente_destinatario",
		"cliente", "progetto", "collegato_a",
	},
}

// ModuloRichiesta is the detail form of a request. Checkbox fields
// are encoded as "checked"/"unchecked".
var ModuloRichiesta = SubSchema{
	Name: "modulo_richiesta",
	Key:  "protocollo",
	Fields: []string{
		"comune", "provincia", "indirizzo", "cap", "piano",
		"appartamento_in_cond", "villa_a_schiera", "villa_isolata", "dimora_abituale", "dimora_saltuaria", "dimora_locata_a_terzi",
		"anno_di_costruzione", "anno_ristrutturazione_impianti",
		"struttura_portante_in_muratura", "cappotto_termico", "struttura_portante_in_cemento_armato", "pannelli_solari_e_o_fotovoltaici",
		"struttura_portante_in_acciaio", "antisismico", "presenza_struttura_commerciale_e_o_ricreative",
		"vincolo", "ente_vincolatario", "scadenza",
		"immobile",
		"incendio_fabbricato", "incendio_fabbricato_importo",
		"incendio_contenuto", "incendio_contenuto_importo",
		"rischio_locativo", "rischio_locativo_importo",
		"ricorso_terzi", "ricorso_terzi_importo",
		"fenomeno_elettrico", "fenomeno_elettrico_importo",
		"acqua_condotta", "acqua_condotta_importo",
		"spese_ricerca_e_riparazione_guasti", "spese_ricerca_e_riparazione_guasti_importo",
		"cristalli", "cristalli_importo",
		"eventi_atmosferici", "eventi_atmosferici_importo",
		"eventi_sociopolitici", "eventi_sociopolitici_importo",
		"pacchetto_extra", "pacchetto_extra_importo",
		"rct", "rct_importo",
		"furto_contenuto", "furto_contenuto_importo",
		"furto_gioielli_e_valori", "furto_gioielli_e_valori_importo",
		"furto_rapina_estorsione", "furto_rapina_estorsione_importo",
		"allagamento_locali", "allagamento_locali_importo",
		"pronto_intervento_per_danni_acqua", "pronto_intervento_per_danni_acqua_importo",
		"invio_fabbro_per_interventi_di_emergenza", "invio_fabbro_per_interventi_di_emergenza_importo",
		"invio_elettricista_per_interventi_di_emergenza", "invio_elettricista_per_interventi_di_emergenza_importo",
		"tutela_legale", "tutela_legale_importo",
		"note_sezione_incendio", "note_sezione_rc", "note_sezione_furto", "note_sezione_assistenza", "note_sezione_tutela_legale",
	},
}

// CustomerDetail is the customer profile reached through the cliente
// link on the request view.
var CustomerDetail = SubSchema{
	Name: "customer_detail",
	Key:  "protocollo",
	Fields: []string{
		"nome_cliente",
		"indirizzo", "sesso", "ateco", "codice_fiscale", "legale_rappresentante", "telefono",
		"settore", "partita_iva", "codice_fiscale_legale_rappresentante", "email",
	},
}

// SubSchemas is the extraction order within a candidate, header first.
var SubSchemas = []SubSchema{RichiestaContratto, ModuloRichiesta, CustomerDetail}

// SubSchemaByName looks up a declared sub-schema.
func SubSchemaByName(name string) (SubSchema, bool) {
	for _, s := range SubSchemas {
		if s.Name == name {
			return s, true
		}
	}
	return SubSchema{}, false
}
