package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospect-engine/internal/model"
)

func TestPersonaFit(t *testing.T) {
	persona := &model.Persona{
		Titles:      []string{"VP Sales", "Head of Revenue"},
		Seniorities: []string{"vp", "director"},
		Departments: []string{"Sales"},
	}
	tests := []struct {
		name    string
		contact model.Contact
		want    float64
	}{
		{name: "all match", contact: model.Contact{Title: "Senior VP Sales, Americas", Seniority: "VP", Department: "sales"}, want: 1},
		{name: "title only", contact: model.Contact{Title: "Head of Revenue"}, want: 1},
		{name: "partial", contact: model.Contact{Title: "Engineer", Seniority: "director", Department: "Engineering"}, want: 1.0 / 3},
		{name: "no data", contact: model.Contact{FullName: "Jane"}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := PersonaFit(&tt.contact, persona)
			assert.InDelta(t, tt.want, res.Score, 1e-9)
		})
	}
}

func TestPersonaFit_NilPersona(t *testing.T) {
	res := PersonaFit(&model.Contact{Title: "CEO"}, nil)
	assert.Equal(t, 0.5, res.Score)
	assert.Equal(t, []string{ReasonNoData}, res.Reasons)
}
