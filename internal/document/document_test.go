package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countFields(doc Document, f Field) int {
	n := 0
	for _, node := range doc.Nodes {
		if node.Kind == KindField && node.Field == f {
			n++
		}
	}
	return n
}

func TestResyncFallbackBlock(t *testing.T) {
	doc := FromText("Conduct a routine inspection of the premises.\n")
	out := Resync(doc, Facts{InspectorNames: []string{"Jane Doe"}})

	require.Equal(t, 1, countFields(out, FieldInspectors))
	for _, n := range out.Nodes {
		if n.Field == FieldInspectors {
			assert.Equal(t, "Jane Doe", n.Text)
		}
	}
	assert.Equal(t,
		"Inspector(s): Jane Doe\nBusiness Name: \nBusiness Address: \n\nConduct a routine inspection of the premises.\n",
		Plain(out))
}

func TestResyncAnchorsAndPlaceholders(t *testing.T) {
	doc := FromText("MISSION ORDER\nInspector(s): TBD\nBusiness Name: [BUSINESS NAME]\nAddress: somewhere\nProceed.\n")
	facts := Facts{
		InspectorNames:  []string{"Jane Doe", "Ben Cruz"},
		BusinessName:    "Kape Shop",
		BusinessAddress: "12 Rizal St",
	}
	out := Resync(doc, facts)

	assert.Equal(t, "MISSION ORDER\nInspector(s): Jane Doe, Ben Cruz\nBusiness Name: Kape Shop\nAddress: 12 Rizal St\nProceed.\n", Plain(out))
	for _, f := range Fields {
		assert.Equal(t, 1, countFields(out, f), string(f))
	}
}

func TestResyncLowercasePlaceholders(t *testing.T) {
	out := Resync(FromText("Team: [inspector] at [business_address]."), Facts{
		InspectorNames:  []string{"Ana"},
		BusinessName:    "Sari-Sari",
		BusinessAddress: "Lot 4",
	})
	assert.Equal(t, "Business Name: Sari-Sari\n\nTeam: Ana at Lot 4.", Plain(out))
}

func TestResyncUpdatesInPlace(t *testing.T) {
	first := Resync(FromText("Inspectors: x\nNotes\n"), Facts{InspectorNames: []string{"Ana"}, BusinessName: "A", BusinessAddress: "B"})
	second := Resync(first, Facts{InspectorNames: []string{"Ana", "Ben"}, BusinessName: "A", BusinessAddress: "B"})

	assert.Equal(t, len(first.Nodes), len(second.Nodes))
	assert.Contains(t, Plain(second), "Inspectors: Ana, Ben\n")
	assert.Equal(t, 1, countFields(second, FieldInspectors))
}

func TestResyncIdempotent(t *testing.T) {
	facts := Facts{InspectorNames: []string{"Jane Doe"}, BusinessName: "Kape", BusinessAddress: "Rizal"}
	inputs := []Document{
		{},
		FromText("plain body"),
		FromText("Inspector: \nName of Business: old\n[BUSINESS_ADDRESS]\n"),
	}
	for _, in := range inputs {
		once := Resync(in, facts)
		twice := Resync(once, facts)
		a, err := Marshal(once)
		require.NoError(t, err)
		b, err := Marshal(twice)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func fallbackDoc() Document {
	return Resync(FromText("Body"), Facts{InspectorNames: []string{"Jane Doe"}, BusinessName: "Kape", BusinessAddress: "Rizal"})
}

func TestValidateEdit(t *testing.T) {
	doc := fallbackDoc()
	// "Inspector(s): " is 14 runes, "Jane Doe" occupies [14,22).
	spans := Spans(doc)
	require.Equal(t, Span{Field: FieldInspectors, Start: 14, End: 22}, spans[0])

	assert.ErrorIs(t, ValidateEdit(doc, Edit{Offset: 16, Text: "x"}), ErrLockedField)
	assert.ErrorIs(t, ValidateEdit(doc, Edit{Offset: 10, Length: 6}), ErrLockedField)
	assert.ErrorIs(t, ValidateEdit(doc, Edit{Offset: 20, Length: 4}), ErrLockedField)
	assert.NoError(t, ValidateEdit(doc, Edit{Offset: 14, Text: "x"}))
	assert.NoError(t, ValidateEdit(doc, Edit{Offset: 22, Text: "x"}))
	assert.NoError(t, ValidateEdit(doc, Edit{Offset: 0, Length: 3}))
	assert.ErrorIs(t, ValidateEdit(doc, Edit{Offset: 1000}), ErrEditOutOfRange)
	assert.ErrorIs(t, ValidateEdit(doc, Edit{Offset: -1}), ErrEditOutOfRange)
}

func TestValidateEditZeroWidthField(t *testing.T) {
	doc := Resync(FromText("Body"), Facts{})
	// all three fields are empty; inspectors sits at 14.
	assert.ErrorIs(t, ValidateEdit(doc, Edit{Offset: 13, Length: 2}), ErrLockedField)
	assert.NoError(t, ValidateEdit(doc, Edit{Offset: 14, Text: "typed"}))
	assert.NoError(t, ValidateEdit(doc, Edit{Offset: 0, Length: 14}))
}

func TestApplyEdits(t *testing.T) {
	doc := fallbackDoc()
	plain := Plain(doc)
	bodyAt := len([]rune(plain)) - len("Body")

	out, err := Apply(doc, []Edit{
		{Offset: bodyAt, Length: 4, Text: "Inspect the kitchen."},
		{Offset: 0, Length: 0, Text: "MO-1\n"},
	})
	require.NoError(t, err)
	assert.Equal(t, "MO-1\nInspector(s): Jane Doe\nBusiness Name: Kape\nBusiness Address: Rizal\n\nInspect the kitchen.", Plain(out))
	assert.Equal(t, 1, countFields(out, FieldInspectors))

	_, err = Apply(doc, []Edit{{Offset: 15, Length: 2}})
	assert.ErrorIs(t, err, ErrLockedField)
}

func TestApplyInsertBetweenFields(t *testing.T) {
	doc := Document{Nodes: []Node{
		{Kind: KindField, Field: FieldBusinessName, Text: "Kape"},
		{Kind: KindField, Field: FieldBusinessAddress, Text: "Rizal"},
	}}
	out, err := Apply(doc, []Edit{{Offset: 4, Text: ", "}, {Offset: 0, Text: "At "}})
	require.NoError(t, err)
	assert.Equal(t, "At Kape, Rizal", Plain(out))
	assert.Len(t, out.Nodes, 4)
}

func TestRenderHTML(t *testing.T) {
	doc := Resync(FromText("Check <script> tags\nsecond line"), Facts{
		InspectorNames: []string{"Jane Doe"},
		BusinessName:   "A & B",
	})
	out, err := RenderHTML(doc)
	require.NoError(t, err)
	assert.Contains(t, out, `data-field="inspectors">Jane Doe</span>`)
	assert.Contains(t, out, `data-field="business_name">A &amp; B</span>`)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "<br")
}

func TestRenderHTMLBlanksScriptLinks(t *testing.T) {
	doc := Resync(FromText("See [the permit](javascript:alert(document.cookie)) before entry.\n<img src=x onerror=alert(1)>"), Facts{
		InspectorNames: []string{"Jane Doe"},
	})
	out, err := RenderHTML(doc)
	require.NoError(t, err)
	assert.NotContains(t, out, `href="javascript:`)
	assert.NotContains(t, out, "<img")
	assert.Contains(t, out, ">the permit</a>")
	assert.Contains(t, out, `data-field="inspectors">Jane Doe</span>`)
}

func TestRenderHTMLFieldInsideLinkTarget(t *testing.T) {
	doc := Document{Nodes: []Node{
		{Kind: KindText, Text: "[storefront]("},
		{Kind: KindField, Field: FieldBusinessName, Text: `Kape"Shop`},
		{Kind: KindText, Text: ") next to "},
		{Kind: KindField, Field: FieldBusinessAddress, Text: "12 Rizal St"},
	}}
	out, err := RenderHTML(doc)
	require.NoError(t, err)
	assert.NotContains(t, out, `href="<span`)
	assert.Contains(t, out, `href="Kape&#34;Shop"`)
	assert.Contains(t, out, `data-field="business_address">12 Rizal St</span>`)
	assert.NotContains(t, out, "ilf")
}

func TestUnmarshalLegacyText(t *testing.T) {
	doc, err := Unmarshal("Inspector: [INSPECTOR]")
	require.NoError(t, err)
	assert.Equal(t, "Inspector: [INSPECTOR]", Plain(doc))

	raw, err := Marshal(Resync(doc, Facts{InspectorNames: []string{"Ana"}}))
	require.NoError(t, err)
	back, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, countFields(back, FieldInspectors))
}
