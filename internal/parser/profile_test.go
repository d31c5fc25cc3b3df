package parser

import (
	"testing"

	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profilePage = `
<html><body>
  <h1 itemprop="name">Dra. María García López</h1>
  <div class="unified-doctor-header-info__specialization">
    <a href="#">Dermatología estética</a>
    <a href="#">Tricología</a>
  </div>
  <div>
    <span itemprop="ratingValue" content="4,8"></span>
    <span itemprop="reviewCount" content="132"></span>
  </div>
  <p>15 años de experiencia tratando problemas de piel.</p>
  <section>
    <h3>Enfermedades tratadas</h3>
    <ul><li>Acné</li><li>Psoriasis</li></ul>
  </section>
  <section>
    <h3>Formación</h3>
    <ul><li>Licenciada en Medicina, Universidad Complutense</li></ul>
  </section>
  <section>
    <h3>Idiomas</h3>
    <p>Español, Inglés y Catalán</p>
  </section>
  <div itemprop="address">
    <span itemprop="name">Clínica Dermatológica Madrid</span>
    <span itemprop="streetAddress">Calle Serrano 45</span>
    <span itemprop="addressLocality">Madrid</span>
    <span itemprop="postalCode">28001</span>
    <a href="https://maps.google.com/?q=@40.4312,-3.6889">Ver mapa</a>
  </div>
  <a href="tel:+34910000000">Llamar</a>
  <div data-test-id="service-price">Primera visita Dermatología 80 €</div>
  <ul><li>Consulta online desde 45 €</li></ul>
</body></html>`

func TestParseProfileFullPage(t *testing.T) {
	p := NewProfileParser()
	ref := model.Reference("https://www.doctoralia.es/maria-garcia-lopez/dermatologo/madrid")

	rec, err := p.ParseProfile(profilePage, ref, "dermatologo", "madrid")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "María García López", rec.Name)
	assert.Equal(t, "Dra.", rec.Title)
	assert.Equal(t, "dermatologo", rec.Category)
	assert.Equal(t, "madrid", rec.Location)
	assert.Equal(t, ref, rec.SourceReference)

	assert.Equal(t, []string{"Dermatología estética", "Tricología"}, rec.SubSpecialties)
	assert.Contains(t, rec.DiseasesTreated, "Acné")
	assert.Contains(t, rec.DiseasesTreated, "Psoriasis")
	assert.Contains(t, rec.Education, "Licenciada en Medicina, Universidad Complutense")
	assert.ElementsMatch(t, []string{"Español", "Inglés", "Catalán"}, rec.Languages)

	assert.Equal(t, 4.8, rec.Rating)
	assert.Equal(t, 132, rec.ReviewCount)
	assert.Equal(t, 15, rec.ExperienceYears)
	assert.Equal(t, "80 €", rec.ConsultationPrice)
	assert.Equal(t, "45 €", rec.OnlineConsultationPrice)
	assert.True(t, rec.OffersOnlineConsult)

	assert.Equal(t, "+34910000000", rec.Contact.Phone)
	require.Len(t, rec.Addresses, 1)
	addr := rec.Addresses[0]
	assert.Equal(t, "Calle Serrano 45", addr.Street)
	assert.Equal(t, "Madrid", addr.City)
	assert.Equal(t, "28001", addr.PostalCode)
	assert.Equal(t, "Clínica Dermatológica Madrid", addr.ClinicName)
	assert.Equal(t, 40.4312, addr.Latitude)
	assert.Equal(t, -3.6889, addr.Longitude)
	assert.NotEmpty(t, rec.ScrapedAt)
}

func TestParseProfileNameFromJSONLD(t *testing.T) {
	page := `<html><body>
	  <script type="application/ld+json">{"@type": "Physician", "name": "Dr. Juan Pérez"}</script>
	</body></html>`
	p := NewProfileParser()

	rec, err := p.ParseProfile(page, "https://example.com/juan-perez/dentista/madrid", "dentista", "madrid")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Juan Pérez", rec.Name)
	assert.Equal(t, "Dr.", rec.Title)
}

func TestParseProfileUnparseablePage(t *testing.T) {
	page := `<html><body><div>Comprueba que no eres un robot</div></body></html>`
	p := NewProfileParser()

	rec, err := p.ParseProfile(page, "https://example.com/ref", "dentista", "madrid")
	require.NoError(t, err)
	assert.Nil(t, rec, "a page without a name is not a profile")
}

func TestParseProfileNameWithoutHonorific(t *testing.T) {
	page := `<html><body><h1 itemprop="name">Carmen Ruiz</h1></body></html>`
	p := NewProfileParser()

	rec, err := p.ParseProfile(page, "https://example.com/carmen-ruiz/psicologo/sevilla", "psicologo", "sevilla")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Carmen Ruiz", rec.Name)
	assert.Empty(t, rec.Title)
	assert.False(t, rec.OffersOnlineConsult)
	assert.Zero(t, rec.Rating)
}
