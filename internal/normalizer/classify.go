package normalizer

import (
	"regexp"
	"strings"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// Rule tables are evaluated top to bottom; the first match wins.

type conditionRule struct {
	pattern   *regexp.Regexp
	condition models.Condition
}

var conditionRules = []conditionRule{
	{regexp.MustCompile(`\b(novostavb\w*|nova\s+stavba|new\s+build\w*|kolaudaci\w*\s+20[2-9]\d)\b`), models.ConditionNewBuild},
	{regexp.MustCompile(`\b(po\s+(kompletnej|celkovej|ciastocnej)\s+rekonstrukcii|zrekonstruovan\w*|rekonstruovan\w*|renovated|refurbished)\b`), models.ConditionRenovated},
	{regexp.MustCompile(`\b(povodn\w*\s+stav\w*|original\s+condition|na\s+rekonstrukciu|vhodn\w*\s+na\s+rekonstrukciu|needs\s+renovation)\b`), models.ConditionOriginal},
	// A bare mention of renovation without "needs" reads as done
	{regexp.MustCompile(`\brekonstrukci\w*\b`), models.ConditionRenovated},
}

// ClassifyCondition maps free text to a construction state
func ClassifyCondition(text string) models.Condition {
	folded := config.Fold(text)
	for _, rule := range conditionRules {
		if rule.pattern.MatchString(folded) {
			return rule.condition
		}
	}
	return models.ConditionUnknown
}

var (
	energyNonePattern  = regexp.MustCompile(`\b(bez\s+(energetickeho\s+)?certifikatu|no\s+energy\s+certificate|certifikat\s*:?\s*nie)\b`)
	energyClassPattern = regexp.MustCompile(`\b(?:energetick\w*\s+(?:trieda|certifikat|narocnost\w*)|energy\s+(?:class|rating|certificate)|trieda|ec)\s*:?\s*(a0|a1|a|b|c|d|e|f|g)\b`)
)

// ClassifyEnergy reads the energy certificate class. "Without certificate"
// is NONE, no mention at all is UNKNOWN.
func ClassifyEnergy(text string) models.EnergyClass {
	folded := config.Fold(text)
	if energyNonePattern.MatchString(folded) {
		return models.EnergyNone
	}
	if m := energyClassPattern.FindStringSubmatch(folded); m != nil {
		return models.EnergyClass(strings.ToUpper(m[1]))
	}
	return models.EnergyUnknown
}

type heatingRule struct {
	pattern *regexp.Regexp
	heating models.Heating
}

var heatingRules = []heatingRule{
	{regexp.MustCompile(`\b(tepeln\w*\s+cerpad\w*|heat\s+pump|rekuperaci\w*)\b`), models.HeatingHeatPump},
	{regexp.MustCompile(`\b(plynov\w*|plyn|gas\s+(boiler|heating)|kondenzacn\w*\s+kotol)\b`), models.HeatingGas},
	{regexp.MustCompile(`\b(ustredn\w*\s+kurenie|centraln\w*\s+(kurenie|zdroj)|central\s+heating|dialkov\w*\s+kurenie)\b`), models.HeatingCentral},
	{regexp.MustCompile(`\b(elektrick\w*\s+(kurenie|kotol|vykurovanie)|podlahov\w*\s+elektrick\w*|electric\s+heating)\b`), models.HeatingElectric},
	{regexp.MustCompile(`\b(tuh\w*\s+palivo|krb\w*|pec\s+na\s+drevo|solid\s+fuel|wood\s+stove)\b`), models.HeatingSolid},
}

// ClassifyHeating maps free text to a heating system
func ClassifyHeating(text string) models.Heating {
	folded := config.Fold(text)
	for _, rule := range heatingRules {
		if rule.pattern.MatchString(folded) {
			return rule.heating
		}
	}
	return models.HeatingUnknown
}

var (
	balconyPattern  = regexp.MustCompile(`\b(balkon\w*|lodzi\w*|loggi\w*|balcony)\b`)
	terracePattern  = regexp.MustCompile(`\b(teras\w*|terrace)\b`)
	elevatorPattern = regexp.MustCompile(`\b(vytah\w*|elevator|lift)\b`)
	parkingPattern  = regexp.MustCompile(`\b(parkovac\w*|parkovanie|parking|statie)\b`)
	garagePattern   = regexp.MustCompile(`\b(garaz\w*|garage)\b`)
	cellarPattern   = regexp.MustCompile(`\b(pivnic\w*|komor\w*\s+v\s+suterene|cellar|storage\s+room)\b`)
	gardenPattern   = regexp.MustCompile(`\b(zahrad\w*|predzahradk\w*|garden)\b`)
	negationPattern = regexp.MustCompile(`\b(bez|no|without)\s+$`)
)

// DetectAmenities flags keyword mentions. A keyword directly preceded by
// "bez"/"without" does not count.
func DetectAmenities(text string) models.Amenities {
	folded := config.Fold(text)
	return models.Amenities{
		Balcony:  mentions(folded, balconyPattern),
		Terrace:  mentions(folded, terracePattern),
		Elevator: mentions(folded, elevatorPattern),
		Parking:  mentions(folded, parkingPattern),
		Garage:   mentions(folded, garagePattern),
		Cellar:   mentions(folded, cellarPattern),
		Garden:   mentions(folded, gardenPattern),
	}
}

func mentions(folded string, pattern *regexp.Regexp) bool {
	for _, loc := range pattern.FindAllStringIndex(folded, -1) {
		if !negationPattern.MatchString(folded[:loc[0]]) {
			return true
		}
	}
	return false
}
