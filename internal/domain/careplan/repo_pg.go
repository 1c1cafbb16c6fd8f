package careplan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pottech/document-creation/internal/domain/patient"
	"github.com/pottech/document-creation/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

// contentColumns are the form columns, in the order of contentArgs and
// contentDest.
var contentColumns = []string{
	"plan_type", "record_date", "consultation_date",
	"has_diabetes", "has_hypertension", "has_hyperlipidemia",
	"height", "weight_current", "weight_target", "waist_current", "waist_target", "nutrition_status",
	"blood_pressure_systolic", "blood_pressure_diastolic", "has_exercise_ecg",
	"blood_test_date", "blood_glucose_condition", "blood_glucose_post_meal_hours", "blood_glucose",
	"hba1c_current", "hba1c_target",
	"total_cholesterol", "triglycerides", "hdl_cholesterol", "ldl_cholesterol",
	"dietary_situation", "exercise_situation", "smoking_situation", "other_lifestyle",
	"achievement_goal", "behavior_goal", "goal_achievement_status", "next_goal",
	"diet_guidance", "exercise_guidance", "smoking_guidance", "other_guidance",
	"has_no_prescription", "has_medication_explanation",
	"treatment_issues", "other_facility_usage",
	"patient_signature", "primary_doctor_id", "secondary_doctor_id",
	"status",
}

// nullable text columns are read back as empty strings.
var textColumns = map[string]bool{
	"nutrition_status": true, "blood_glucose_condition": true,
	"dietary_situation": true, "exercise_situation": true, "smoking_situation": true, "other_lifestyle": true,
	"achievement_goal": true, "behavior_goal": true, "goal_achievement_status": true, "next_goal": true,
	"treatment_issues": true, "other_facility_usage": true, "patient_signature": true,
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func contentArgs(c *Content) []interface{} {
	return []interface{}{
		c.PlanType, c.RecordDate, c.ConsultationDate,
		c.HasDiabetes, c.HasHypertension, c.HasHyperlipidemia,
		c.Height, c.WeightCurrent, c.WeightTarget, c.WaistCurrent, c.WaistTarget, nullString(string(c.NutritionStatus)),
		c.BloodPressureSystolic, c.BloodPressureDiastolic, c.HasExerciseECG,
		c.BloodTestDate, nullString(string(c.BloodGlucoseCondition)), c.PostMealHours, c.BloodGlucose,
		c.HbA1cCurrent, c.HbA1cTarget,
		c.TotalCholesterol, c.Triglycerides, c.HDLCholesterol, c.LDLCholesterol,
		nullString(c.DietarySituation), nullString(c.ExerciseSituation), nullString(c.SmokingSituation), nullString(c.OtherLifestyle),
		nullString(c.AchievementGoal), nullString(c.BehaviorGoal), nullString(c.GoalAchievementStatus), nullString(c.NextGoal),
		c.DietGuidance, c.ExerciseGuidance, c.SmokingGuidance, c.OtherGuidance,
		c.HasNoPrescription, c.HasMedicationExplanation,
		nullString(c.TreatmentIssues), nullString(c.OtherFacilityUsage),
		nullString(c.PatientSignature), c.PrimaryDoctorID, c.SecondaryDoctorID,
		c.Status,
	}
}

func contentDest(c *Content) []interface{} {
	return []interface{}{
		&c.PlanType, &c.RecordDate, &c.ConsultationDate,
		&c.HasDiabetes, &c.HasHypertension, &c.HasHyperlipidemia,
		&c.Height, &c.WeightCurrent, &c.WeightTarget, &c.WaistCurrent, &c.WaistTarget, &c.NutritionStatus,
		&c.BloodPressureSystolic, &c.BloodPressureDiastolic, &c.HasExerciseECG,
		&c.BloodTestDate, &c.BloodGlucoseCondition, &c.PostMealHours, &c.BloodGlucose,
		&c.HbA1cCurrent, &c.HbA1cTarget,
		&c.TotalCholesterol, &c.Triglycerides, &c.HDLCholesterol, &c.LDLCholesterol,
		&c.DietarySituation, &c.ExerciseSituation, &c.SmokingSituation, &c.OtherLifestyle,
		&c.AchievementGoal, &c.BehaviorGoal, &c.GoalAchievementStatus, &c.NextGoal,
		&c.DietGuidance, &c.ExerciseGuidance, &c.SmokingGuidance, &c.OtherGuidance,
		&c.HasNoPrescription, &c.HasMedicationExplanation,
		&c.TreatmentIssues, &c.OtherFacilityUsage,
		&c.PatientSignature, &c.PrimaryDoctorID, &c.SecondaryDoctorID,
		&c.Status,
	}
}

var carePlanCols = func() string {
	cols := []string{"cp.id", "cp.hospital_id", "cp.patient_id", "cp.sequence_number"}
	for _, c := range contentColumns {
		if textColumns[c] {
			cols = append(cols, "COALESCE(cp."+c+", '')")
		} else {
			cols = append(cols, "cp."+c)
		}
	}
	cols = append(cols, "cp.bmi", "COALESCE(cp.pdf_path, '')", "cp.created_by", "cp.created_at", "cp.updated_at")
	return strings.Join(cols, ", ")
}()

func carePlanDest(cp *CarePlan, extra ...interface{}) []interface{} {
	dest := []interface{}{&cp.ID, &cp.HospitalID, &cp.PatientID, &cp.SequenceNumber}
	dest = append(dest, contentDest(&cp.Content)...)
	dest = append(dest, &cp.BMI, &cp.PDFPath, &cp.CreatedBy, &cp.CreatedAt, &cp.UpdatedAt)
	return append(dest, extra...)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(p, ", ")
}

func (r *repoPG) Create(ctx context.Context, cp *CarePlan, staffs []Staff) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		cp.ID = uuid.New()
		args := []interface{}{cp.ID, cp.HospitalID, cp.PatientID, cp.SequenceNumber, cp.BMI, cp.CreatedBy}
		args = append(args, contentArgs(&cp.Content)...)
		query := `INSERT INTO care_plans (id, hospital_id, patient_id, sequence_number, bmi, created_by, ` +
			strings.Join(contentColumns, ", ") + `) VALUES (` + placeholders(1, len(args)) + `)
			RETURNING created_at, updated_at`
		if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&cp.CreatedAt, &cp.UpdatedAt); err != nil {
			return fmt.Errorf("insert care plan: %w", err)
		}
		return r.setStaffs(ctx, cp.ID, staffs)
	})
}

func (r *repoPG) setStaffs(ctx context.Context, carePlanID uuid.UUID, staffs []Staff) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM care_plan_staffs WHERE care_plan_id = $1`, carePlanID); err != nil {
		return fmt.Errorf("clear care plan staffs: %w", err)
	}
	for _, s := range staffs {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO care_plan_staffs (id, care_plan_id, user_id, guidance_area, display_order)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), carePlanID, s.UserID, s.GuidanceArea, s.DisplayOrder); err != nil {
			return fmt.Errorf("insert care plan staff: %w", err)
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, hospitalID, id uuid.UUID) (*CarePlan, error) {
	var cp CarePlan
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+carePlanCols+` FROM care_plans cp WHERE cp.id = $1 AND cp.hospital_id = $2`, id, hospitalID,
	).Scan(carePlanDest(&cp)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &cp, nil
}

func (r *repoPG) GetDetails(ctx context.Context, hospitalID, id uuid.UUID) (*Details, error) {
	d := Details{CarePlan: &CarePlan{}}
	var primaryName, secondaryName, creatorName *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+carePlanCols+`,
			p.id, p.patient_number, p.name, p.birth_date, p.gender,
			pd.name, sd.name, cu.name
		FROM care_plans cp
		JOIN patients p ON p.id = cp.patient_id
		LEFT JOIN users pd ON pd.id = cp.primary_doctor_id
		LEFT JOIN users sd ON sd.id = cp.secondary_doctor_id
		LEFT JOIN users cu ON cu.id = cp.created_by
		WHERE cp.id = $1 AND cp.hospital_id = $2`, id, hospitalID,
	).Scan(carePlanDest(d.CarePlan,
		&d.Patient.ID, &d.Patient.PatientNumber, &d.Patient.Name, &d.Patient.BirthDate, &d.Patient.Gender,
		&primaryName, &secondaryName, &creatorName)...)
	if err != nil {
		return nil, notFound(err)
	}
	d.PrimaryDoctor = person(d.PrimaryDoctorID, primaryName)
	d.SecondaryDoctor = person(d.SecondaryDoctorID, secondaryName)
	d.Creator = person(d.CreatedBy, creatorName)

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.user_id, u.name, s.guidance_area, s.display_order
		FROM care_plan_staffs s JOIN users u ON u.id = s.user_id
		WHERE s.care_plan_id = $1
		ORDER BY s.guidance_area, s.display_order`, id)
	if err != nil {
		return nil, fmt.Errorf("load care plan staffs: %w", err)
	}
	defer rows.Close()
	d.Staffs = []Staff{}
	for rows.Next() {
		var s Staff
		if err := rows.Scan(&s.UserID, &s.UserName, &s.GuidanceArea, &s.DisplayOrder); err != nil {
			return nil, err
		}
		d.Staffs = append(d.Staffs, s)
	}
	return &d, rows.Err()
}

func person(id *uuid.UUID, name *string) *Person {
	if id == nil || name == nil {
		return nil
	}
	return &Person{ID: *id, Name: *name}
}

func (r *repoPG) Update(ctx context.Context, cp *CarePlan, staffs []Staff) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		sets := make([]string, 0, len(contentColumns)+1)
		args := []interface{}{cp.ID, cp.HospitalID, cp.BMI}
		sets = append(sets, "bmi = $3")
		for i, col := range contentColumns {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, i+4))
		}
		args = append(args, contentArgs(&cp.Content)...)
		err := r.conn(ctx).QueryRow(ctx, `UPDATE care_plans SET `+strings.Join(sets, ", ")+`, updated_at = NOW()
			WHERE id = $1 AND hospital_id = $2 RETURNING updated_at`, args...).Scan(&cp.UpdatedAt)
		if err != nil {
			return notFound(err)
		}
		if staffs == nil {
			return nil
		}
		return r.setStaffs(ctx, cp.ID, staffs)
	})
}

func (r *repoPG) Delete(ctx context.Context, hospitalID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM care_plans WHERE id = $1 AND hospital_id = $2`, id, hospitalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func listWhere(hospitalID uuid.UUID, opts ListOptions) (string, []interface{}) {
	clauses := []string{"cp.hospital_id = $1"}
	args := []interface{}{hospitalID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if opts.PatientID != nil {
		add("cp.patient_id = $%d", *opts.PatientID)
	}
	if !opts.ConsultationDate.IsZero() {
		add("cp.consultation_date = $%d", opts.ConsultationDate)
	}
	if !opts.DateFrom.IsZero() {
		add("cp.consultation_date >= $%d", opts.DateFrom)
	}
	if !opts.DateTo.IsZero() {
		add("cp.consultation_date <= $%d", opts.DateTo)
	}
	if opts.Status != "" {
		add("cp.status = $%d", opts.Status)
	}
	if opts.PlanType != "" {
		add("cp.plan_type = $%d", opts.PlanType)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) List(ctx context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*ListItem, int, error) {
	where, args := listWhere(hospitalID, opts)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM care_plans cp`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, opts.Limit, opts.Offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT cp.id, cp.plan_type, cp.sequence_number, cp.consultation_date, cp.status, cp.created_at,
			p.id, p.patient_number, p.name, p.birth_date, p.gender
		FROM care_plans cp JOIN patients p ON p.id = cp.patient_id`+where+`
		ORDER BY cp.consultation_date DESC, cp.created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ListItem
	for rows.Next() {
		var it ListItem
		if err := rows.Scan(&it.ID, &it.PlanType, &it.SequenceNumber, &it.ConsultationDate, &it.Status, &it.CreatedAt,
			&it.Patient.ID, &it.Patient.PatientNumber, &it.Patient.Name, &it.Patient.BirthDate, &it.Patient.Gender); err != nil {
			return nil, 0, err
		}
		items = append(items, &it)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Latest(ctx context.Context, hospitalID, patientID uuid.UUID) (*CarePlan, error) {
	var cp CarePlan
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+carePlanCols+` FROM care_plans cp
		WHERE cp.patient_id = $1 AND cp.hospital_id = $2
		ORDER BY cp.created_at DESC LIMIT 1`, patientID, hospitalID,
	).Scan(carePlanDest(&cp)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &cp, nil
}

func (r *repoPG) CountForPatient(ctx context.Context, hospitalID, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM care_plans WHERE patient_id = $1 AND hospital_id = $2`, patientID, hospitalID,
	).Scan(&n)
	return n, err
}

func (r *repoPG) Stats(ctx context.Context, hospitalID uuid.UUID, from, to patient.Date) (*Stats, error) {
	where, args := listWhere(hospitalID, ListOptions{DateFrom: from, DateTo: to})
	st := &Stats{ByStatus: map[Status]int{}, ByDisease: map[string]int{}}

	var diabetes, hypertension, hyperlipidemia int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE cp.has_diabetes),
			COUNT(*) FILTER (WHERE cp.has_hypertension),
			COUNT(*) FILTER (WHERE cp.has_hyperlipidemia)
		FROM care_plans cp`+where, args...).Scan(&st.Total, &diabetes, &hypertension, &hyperlipidemia)
	if err != nil {
		return nil, fmt.Errorf("count care plans: %w", err)
	}
	st.ByDisease["diabetes"] = diabetes
	st.ByDisease["hypertension"] = hypertension
	st.ByDisease["hyperlipidemia"] = hyperlipidemia

	rows, err := r.conn(ctx).Query(ctx, `SELECT cp.status, COUNT(*) FROM care_plans cp`+where+` GROUP BY cp.status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count care plans by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		st.ByStatus[s] = n
	}
	return st, rows.Err()
}

func (r *repoPG) DailyCounts(ctx context.Context, hospitalID uuid.UUID, from, to patient.Date) ([]DayCount, error) {
	where, args := listWhere(hospitalID, ListOptions{DateFrom: from, DateTo: to})
	rows, err := r.conn(ctx).Query(ctx, `SELECT cp.consultation_date, COUNT(*) FROM care_plans cp`+where+`
		GROUP BY cp.consultation_date ORDER BY cp.consultation_date`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := []DayCount{}
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}
