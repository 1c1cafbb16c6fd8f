package careplan

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/domain/patient"
)

var (
	ErrNotFound     = errors.New("care plan not found")
	ErrInvalidInput = errors.New("invalid care plan")
	ErrSigned       = errors.New("care plan is signed and can no longer be changed")
)

type PlanType string

const (
	PlanTypeInitial    PlanType = "initial"
	PlanTypeContinuous PlanType = "continuous"
)

func (t PlanType) Valid() bool { return t == PlanTypeInitial || t == PlanTypeContinuous }

type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusSigned    Status = "signed"
)

func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusCompleted || s == StatusSigned
}

type NutritionStatus string

const (
	NutritionMalnourished NutritionStatus = "malnourished"
	NutritionGood         NutritionStatus = "good"
	NutritionObese        NutritionStatus = "obese"
)

// GlucoseCondition is when blood glucose was measured.
type GlucoseCondition string

const (
	GlucoseFasting      GlucoseCondition = "fasting"
	GlucoseRandom       GlucoseCondition = "random"
	GlucosePostprandial GlucoseCondition = "postprandial"
)

// GuidanceArea is the topic a staff member is responsible for.
type GuidanceArea string

const (
	AreaDiet       GuidanceArea = "diet"
	AreaExercise   GuidanceArea = "exercise"
	AreaSmoking    GuidanceArea = "smoking"
	AreaOther      GuidanceArea = "other"
	AreaMedication GuidanceArea = "medication"
)

func (a GuidanceArea) Valid() bool {
	switch a {
	case AreaDiet, AreaExercise, AreaSmoking, AreaOther, AreaMedication:
		return true
	}
	return false
}

// Intake is a food or drink the patient should cut down on.
type Intake struct {
	Enabled         bool   `json:"enabled"`
	TypeAndAmount   string `json:"typeAndAmount,omitempty"`
	WeeklyFrequency *int   `json:"weeklyFrequency,omitempty"`
}

type EatingStyle struct {
	SlowEating bool   `json:"slowEating,omitempty"`
	Other      string `json:"other,omitempty"`
}

type DietGuidance struct {
	ProperIntake     bool         `json:"properIntake,omitempty"`
	ReduceSalt       bool         `json:"reduceSalt,omitempty"`
	IncreaseFiber    bool         `json:"increaseFiber,omitempty"`
	EatingOutNotes   string       `json:"eatingOutNotes,omitempty"`
	ReduceOil        bool         `json:"reduceOil,omitempty"`
	Other            string       `json:"other,omitempty"`
	ReduceAlcohol    *Intake      `json:"reduceAlcohol,omitempty"`
	ReduceSnacks     *Intake      `json:"reduceSnacks,omitempty"`
	EatingStyle      *EatingStyle `json:"eatingStyle,omitempty"`
	RegularMeals     bool         `json:"regularMeals,omitempty"`
	NoGuidanceNeeded bool         `json:"noGuidanceNeeded,omitempty"`
}

type ExercisePrescription struct {
	Type       string `json:"type,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	WeeklyDays *int   `json:"weeklyDays,omitempty"`
	Intensity  string `json:"intensity,omitempty"`
	HeartRate  *int   `json:"heartRate,omitempty"`
}

type ExerciseGuidance struct {
	Prescription          *ExercisePrescription `json:"prescription,omitempty"`
	DailyActivityIncrease string                `json:"dailyActivityIncrease,omitempty"`
	ExerciseNotes         string                `json:"exerciseNotes,omitempty"`
	NoGuidanceNeeded      bool                  `json:"noGuidanceNeeded,omitempty"`
}

type SmokingGuidance struct {
	IsNonSmoker              bool `json:"isNonSmoker,omitempty"`
	QuitSmokingEffectiveness bool `json:"quitSmokingEffectiveness,omitempty"`
	QuitSmokingMethod        bool `json:"quitSmokingMethod,omitempty"`
}

type OtherGuidance struct {
	Work            bool   `json:"work,omitempty"`
	Leisure         bool   `json:"leisure,omitempty"`
	SleepQuality    bool   `json:"sleepQuality,omitempty"`
	WeightLoss      bool   `json:"weightLoss,omitempty"`
	HomeMeasurement bool   `json:"homeMeasurement,omitempty"`
	Other           string `json:"other,omitempty"`
}

// Content is everything a clinician fills in on a care plan form.
type Content struct {
	PlanType         PlanType     `json:"planType" validate:"required,oneof=initial continuous"`
	RecordDate       patient.Date `json:"recordDate"`
	ConsultationDate patient.Date `json:"consultationDate"`

	HasDiabetes       bool `json:"hasDiabetes"`
	HasHypertension   bool `json:"hasHypertension"`
	HasHyperlipidemia bool `json:"hasHyperlipidemia"`

	Height                 *float64        `json:"height,omitempty" validate:"omitempty,gt=0,lte=300"`
	WeightCurrent          *float64        `json:"weightCurrent,omitempty" validate:"omitempty,gt=0,lte=500"`
	WeightTarget           *float64        `json:"weightTarget,omitempty" validate:"omitempty,gt=0,lte=500"`
	WaistCurrent           *float64        `json:"waistCurrent,omitempty" validate:"omitempty,gt=0"`
	WaistTarget            *float64        `json:"waistTarget,omitempty" validate:"omitempty,gt=0"`
	NutritionStatus        NutritionStatus `json:"nutritionStatus,omitempty" validate:"omitempty,oneof=malnourished good obese"`
	BloodPressureSystolic  *int            `json:"bloodPressureSystolic,omitempty" validate:"omitempty,gt=0"`
	BloodPressureDiastolic *int            `json:"bloodPressureDiastolic,omitempty" validate:"omitempty,gt=0"`
	HasExerciseECG         bool            `json:"hasExerciseEcg"`

	BloodTestDate         patient.Date     `json:"bloodTestDate"`
	BloodGlucoseCondition GlucoseCondition `json:"bloodGlucoseCondition,omitempty" validate:"omitempty,oneof=fasting random postprandial"`
	PostMealHours         *int             `json:"bloodGlucosePostMealHours,omitempty" validate:"omitempty,gte=0"`
	BloodGlucose          *int             `json:"bloodGlucose,omitempty" validate:"omitempty,gte=0"`
	HbA1cCurrent          *float64         `json:"hba1cCurrent,omitempty" validate:"omitempty,gte=0"`
	HbA1cTarget           *float64         `json:"hba1cTarget,omitempty" validate:"omitempty,gte=0"`
	TotalCholesterol      *int             `json:"totalCholesterol,omitempty" validate:"omitempty,gte=0"`
	Triglycerides         *int             `json:"triglycerides,omitempty" validate:"omitempty,gte=0"`
	HDLCholesterol        *int             `json:"hdlCholesterol,omitempty" validate:"omitempty,gte=0"`
	LDLCholesterol        *int             `json:"ldlCholesterol,omitempty" validate:"omitempty,gte=0"`

	DietarySituation  string `json:"dietarySituation,omitempty"`
	ExerciseSituation string `json:"exerciseSituation,omitempty"`
	SmokingSituation  string `json:"smokingSituation,omitempty"`
	OtherLifestyle    string `json:"otherLifestyle,omitempty"`

	AchievementGoal       string `json:"achievementGoal,omitempty"`
	BehaviorGoal          string `json:"behaviorGoal,omitempty"`
	GoalAchievementStatus string `json:"goalAchievementStatus,omitempty"`
	NextGoal              string `json:"nextGoal,omitempty"`

	DietGuidance     *DietGuidance     `json:"dietGuidance,omitempty"`
	ExerciseGuidance *ExerciseGuidance `json:"exerciseGuidance,omitempty"`
	SmokingGuidance  *SmokingGuidance  `json:"smokingGuidance,omitempty"`
	OtherGuidance    *OtherGuidance    `json:"otherGuidance,omitempty"`

	HasNoPrescription        bool `json:"hasNoPrescription"`
	HasMedicationExplanation bool `json:"hasMedicationExplanation"`

	TreatmentIssues    string `json:"treatmentIssues,omitempty"`
	OtherFacilityUsage string `json:"otherFacilityUsage,omitempty"`

	PatientSignature  string     `json:"patientSignature,omitempty"`
	PrimaryDoctorID   *uuid.UUID `json:"primaryDoctorId,omitempty"`
	SecondaryDoctorID *uuid.UUID `json:"secondaryDoctorId,omitempty"`

	Status Status `json:"status" validate:"omitempty,oneof=draft completed signed"`
}

// CarePlan is a lifestyle-disease treatment plan for one patient. BMI is
// derived from Height and WeightCurrent whenever both are set.
type CarePlan struct {
	ID             uuid.UUID `json:"id"`
	HospitalID     uuid.UUID `json:"hospitalId"`
	PatientID      uuid.UUID `json:"patientId"`
	SequenceNumber int       `json:"sequenceNumber"`
	Content
	BMI       *float64   `json:"bmi,omitempty"`
	PDFPath   string     `json:"pdfPath,omitempty"`
	CreatedBy *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// BMI returns weight / (height in metres)^2 rounded to one decimal, or nil
// when either value is missing or not positive.
func BMI(heightCm, weightKg *float64) *float64 {
	if heightCm == nil || weightKg == nil || *heightCm <= 0 || *weightKg <= 0 {
		return nil
	}
	h := *heightCm / 100
	v := math.Round(*weightKg/(h*h)*10) / 10
	return &v
}

// Fields is the audited view of a care plan.
func (cp *CarePlan) Fields() map[string]interface{} {
	return map[string]interface{}{
		"planType":         cp.PlanType,
		"status":           cp.Status,
		"recordDate":       cp.RecordDate.String(),
		"consultationDate": cp.ConsultationDate.String(),
		"diseases":         cp.Diseases(),
		"height":           cp.Height,
		"weightCurrent":    cp.WeightCurrent,
		"weightTarget":     cp.WeightTarget,
		"bmi":              cp.BMI,
		"hba1cCurrent":     cp.HbA1cCurrent,
		"hba1cTarget":      cp.HbA1cTarget,
		"achievementGoal":  cp.AchievementGoal,
		"behaviorGoal":     cp.BehaviorGoal,
		"primaryDoctorId":  cp.PrimaryDoctorID,
	}
}

var auditedFields = []string{
	"planType", "status", "recordDate", "consultationDate", "diseases",
	"height", "weightCurrent", "weightTarget", "bmi", "hba1cCurrent", "hba1cTarget",
	"achievementGoal", "behaviorGoal", "primaryDoctorId",
}

// Diseases lists the primary diseases the plan covers.
func (c *Content) Diseases() []string {
	var d []string
	if c.HasDiabetes {
		d = append(d, "diabetes")
	}
	if c.HasHypertension {
		d = append(d, "hypertension")
	}
	if c.HasHyperlipidemia {
		d = append(d, "hyperlipidemia")
	}
	return d
}

// Staff assigns a hospital member to one guidance area of a plan.
type Staff struct {
	UserID       uuid.UUID    `json:"userId" validate:"required"`
	UserName     string       `json:"userName,omitempty"`
	GuidanceArea GuidanceArea `json:"guidanceArea" validate:"required,oneof=diet exercise smoking other medication"`
	DisplayOrder int          `json:"displayOrder" validate:"gte=1"`
}

// Person is a user referenced by a plan.
type Person struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Details is a care plan with everything shown on its detail page.
type Details struct {
	*CarePlan
	Patient         patient.Summary `json:"patient"`
	PrimaryDoctor   *Person         `json:"primaryDoctor,omitempty"`
	SecondaryDoctor *Person         `json:"secondaryDoctor,omitempty"`
	Creator         *Person         `json:"creator,omitempty"`
	Staffs          []Staff         `json:"staffs"`
}

// ListItem is one row of a care plan list.
type ListItem struct {
	ID               uuid.UUID       `json:"id"`
	PlanType         PlanType        `json:"planType"`
	SequenceNumber   int             `json:"sequenceNumber"`
	ConsultationDate patient.Date    `json:"consultationDate"`
	Status           Status          `json:"status"`
	Patient          patient.Summary `json:"patient"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// ListOptions filters a hospital's care plans. Zero fields do not filter.
type ListOptions struct {
	PatientID        *uuid.UUID
	ConsultationDate patient.Date
	DateFrom         patient.Date
	DateTo           patient.Date
	Status           Status
	PlanType         PlanType
	Limit            int
	Offset           int
}

// Stats counts a hospital's care plans.
type Stats struct {
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"byStatus"`
	ByDisease map[string]int `json:"byDisease"`
}

// DayCount is the number of consultations on one day.
type DayCount struct {
	Date  patient.Date `json:"date"`
	Count int          `json:"count"`
}
