package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exercises (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		image_ref TEXT NOT NULL DEFAULT '',
		source_text TEXT NOT NULL DEFAULT '',
		time_limit_seconds INTEGER NOT NULL DEFAULT 0,
		format TEXT NOT NULL DEFAULT '',
		flowchart_options TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exercise_id INTEGER NOT NULL,
		order_index INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		ideal_answer TEXT NOT NULL DEFAULT '',
		mark_weight INTEGER NOT NULL DEFAULT 1,
		UNIQUE (exercise_id, order_index),
		FOREIGN KEY (exercise_id) REFERENCES exercises(id)
	);

	CREATE TABLE IF NOT EXISTS flowchart_sections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exercise_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		paragraph_range TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (exercise_id) REFERENCES exercises(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		student_id INTEGER NOT NULL,
		section TEXT NOT NULL,
		exercise_id INTEGER NOT NULL,
		practice_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'in_progress',
		answers TEXT NOT NULL DEFAULT '{}',
		questions TEXT NOT NULL DEFAULT '[]',
		flowchart TEXT,
		grading_source TEXT NOT NULL DEFAULT '',
		time_remaining INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		score REAL,
		flowchart_score REAL,
		started_at DATETIME NOT NULL,
		last_saved DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_slot ON attempts(student_id, section, exercise_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_last_saved ON attempts(student_id, last_saved);

	CREATE TABLE IF NOT EXISTS practice_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		practice_id TEXT NOT NULL,
		section_scores TEXT NOT NULL,
		total REAL NOT NULL,
		completed_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
