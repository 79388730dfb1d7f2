package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/config"
	"github.com/tiagoc-santos/DataBase-Project/internal/db"
	"github.com/tiagoc-santos/DataBase-Project/internal/logging"
)

var specialties = []string{
	"Cardiology",
	"Dermatology",
	"General Practice",
	"Orthopedics",
	"Pediatrics",
	"Neurology",
	"Ophthalmology",
}

const (
	clinicCount  = 5
	doctorCount  = 60
	patientCount = 5000
	// share of patients whose NIF on file is also a doctor's NIF
	doctorPatientEvery = 25
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "prod")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	clinics, err := seedClinics(ctx, pool, faker, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed clinics")
	}
	doctors, err := seedDoctors(ctx, pool, faker, clinics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, faker, doctors, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, log zerolog.Logger) ([]string, error) {
	names := make([]string, 0, clinicCount)

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < clinicCount; i++ {
			name := fmt.Sprintf("Clinica %s", faker.City())
			address := fmt.Sprintf("%s, %s", faker.Street(), faker.Zip())

			tag, err := tx.Exec(ctx, `
				INSERT INTO clinica (nome, morada) VALUES ($1, $2)
				ON CONFLICT (nome) DO NOTHING
			`, name, address)
			if err != nil {
				return err
			}
			if tag.RowsAffected() > 0 {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(names)).Msg("clinics seeded")
	return names, nil
}

// seedDoctors gives every doctor two or three weekdays, each at one clinic.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, clinics []string, log zerolog.Logger) ([]int64, error) {
	if len(clinics) == 0 {
		return nil, fmt.Errorf("no clinics to assign doctors to")
	}
	nifs := make([]int64, 0, doctorCount)

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < doctorCount; i++ {
			nif := int64(faker.Number(100000000, 999999999))
			spec := specialties[faker.Number(0, len(specialties)-1)]

			tag, err := tx.Exec(ctx, `
				INSERT INTO medico (nif, nome, especialidade) VALUES ($1, $2, $3)
				ON CONFLICT (nif) DO NOTHING
			`, nif, "Dr. "+faker.Name(), spec)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			nifs = append(nifs, nif)

			days := faker.Number(2, 3)
			for d := 0; d < days; d++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO trabalha (nif, nome, dia_da_semana) VALUES ($1, $2, $3)
					ON CONFLICT DO NOTHING
				`, nif, clinics[faker.Number(0, len(clinics)-1)], faker.Number(1, 5))
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(nifs)).Msg("doctors seeded")
	return nifs, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, doctors []int64, log zerolog.Logger) error {
	const batchSize = 1000

	for offset := 0; offset < patientCount; offset += batchSize {
		end := offset + batchSize
		if end > patientCount {
			end = patientCount
		}

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			ssn := int64(faker.Number(10000000000, 99999999999))
			batch.Queue(`
				INSERT INTO paciente (ssn, nif, nome) VALUES ($1, $2, $3)
				ON CONFLICT (ssn) DO NOTHING
			`, ssn, patientNIF(i, doctors, faker), faker.Name())
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		log.Info().Int("seeded", end).Int("total", patientCount).Msg("patients batch seeded")
	}

	log.Info().Msg("patients seeded")
	return nil
}

// patientNIF gives every doctorPatientEvery-th patient the NIF of a seeded
// doctor, so self-consultation can be exercised against seeded data.
func patientNIF(i int, doctors []int64, faker *gofakeit.Faker) int64 {
	if len(doctors) > 0 && i%doctorPatientEvery == 0 {
		return doctors[faker.Number(0, len(doctors)-1)]
	}
	return int64(faker.Number(100000000, 999999999))
}
