package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterminism(t *testing.T) {
	m := MappingOf(
		"avanzamento", "in lavorazione",
		"prodotto", "polizza casa",
		"cliente", "ACME srl",
	)
	require.Equal(t, Fingerprint(RichiestaContratto, m), Fingerprint(RichiestaContratto, m))
}

func TestFingerprintIgnoresEmissionOrder(t *testing.T) {
	a := MappingOf(
		"avanzamento", "in lavorazione",
		"prodotto", "polizza casa",
	)
	b := MappingOf(
		"prodotto", "polizza casa",
		"avanzamento", "in lavorazione",
	)
	require.Equal(t, Fingerprint(RichiestaContratto, a), Fingerprint(RichiestaContratto, b))
}

func TestFingerprintExcludesKey(t *testing.T) {
	a := MappingOf("protocollo", "P-1", "prodotto", "polizza casa")
	b := MappingOf("protocollo", "P-2", "prodotto", "polizza casa")
	require.Equal(t, Fingerprint(RichiestaContratto, a), Fingerprint(RichiestaContratto, b))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := MappingOf(
		"avanzamento", "in lavorazione",
		"prodotto", "polizza casa",
		"cliente", "ACME srl",
	)
	fingerprints := map[string]string{"base": Fingerprint(RichiestaContratto, base)}

	changedValue := MappingOf(
		"avanzamento", "chiusa",
		"prodotto", "polizza casa",
		"cliente", "ACME srl",
	)
	fingerprints["changed value"] = Fingerprint(RichiestaContratto, changedValue)

	droppedField := MappingOf(
		"avanzamento", "in lavorazione",
		"prodotto", "polizza casa",
	)
	fingerprints["dropped field"] = Fingerprint(RichiestaContratto, droppedField)

	seen := map[string]string{}
	for name, fp := range fingerprints {
		prev, dup := seen[fp]
		require.Falsef(t, dup, "%s collides with %s", name, prev)
		seen[fp] = name
	}
}

func TestFingerprintDistinguishesEmptyFromAbsent(t *testing.T) {
	empty := MappingOf("prodotto", "polizza casa", "cliente", "")
	absent := MappingOf("prodotto", "polizza casa")
	require.NotEqual(t, Fingerprint(RichiestaContratto, empty), Fingerprint(RichiestaContratto, absent))
}

func TestMappingKeepsInsertionOrder(t *testing.T) {
	m := NewMapping()
	m.Set("b", "2")
	m.Set("a", "1")
	m.Set("b", "3")
	require.Equal(t, []string{"b", "a"}, m.Fields())
	require.Equal(t, "3", m.Value("b"))

	_, ok := m.Get("c")
	require.False(t, ok)
	require.Equal(t, "", m.Value("c"))
}
