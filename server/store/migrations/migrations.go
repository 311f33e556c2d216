package migrations

// DialectTemplate is used as the templating control for differing SQL syntax between our supported databases
type DialectTemplate struct {
	Binary            string
	IntegerPrimaryKey string
}

// MigrationSet provides a set of migrations that can be applied to a database.
type MigrationSet []MigrationData

// MigrationData provides the data for a single migration, including Up and Down SQL.
// Templated values are supported and will be substituted for database-specific values
// before the migrations are applied.
type MigrationData struct {
	SequenceNumber int64
	Name           string
	UpSQL          string
	DownSQL        string
}

// MoliorServerMigrations is the set of migrations to set up the database for the molior server.
var MoliorServerMigrations = MigrationSet{
	{
		SequenceNumber: 1,
		Name:           "create_projects",
		UpSQL: `CREATE TABLE IF NOT EXISTS projects
				(
					project_id {{ .IntegerPrimaryKey }},
					project_name text NOT NULL,
					project_is_mirror bool NOT NULL DEFAULT false
				);
				CREATE UNIQUE INDEX IF NOT EXISTS projects_name_unique_index ON projects(project_name);
				CREATE TABLE IF NOT EXISTS project_versions
				(
					projectversion_id {{ .IntegerPrimaryKey }},
					projectversion_project_id integer NOT NULL REFERENCES projects (project_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					projectversion_name text NOT NULL,
					projectversion_is_locked bool NOT NULL DEFAULT false,
					projectversion_basemirror_id integer REFERENCES project_versions (projectversion_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					projectversion_mirror_url text NOT NULL DEFAULT '',
					projectversion_mirror_distribution text NOT NULL DEFAULT '',
					projectversion_mirror_components text NOT NULL DEFAULT '',
					projectversion_mirror_architectures text NOT NULL DEFAULT '',
					projectversion_mirror_keys text NOT NULL DEFAULT '',
					projectversion_mirror_state text NOT NULL DEFAULT ''
				);
				CREATE UNIQUE INDEX IF NOT EXISTS project_versions_project_name_unique_index ON project_versions(
					projectversion_project_id,
					projectversion_name);`,
		DownSQL: `DROP TABLE project_versions;
				  DROP TABLE projects;`,
	},
	{
		SequenceNumber: 2,
		Name:           "create_source_repositories",
		UpSQL: `CREATE TABLE IF NOT EXISTS source_repositories
				(
					repo_id {{ .IntegerPrimaryKey }},
					repo_created_at timestamp without time zone NOT NULL,
					repo_url text NOT NULL,
					repo_name text NOT NULL DEFAULT '',
					repo_state text NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS source_repositories_url_unique_index ON source_repositories(repo_url);
				CREATE TABLE IF NOT EXISTS repo_project_versions
				(
					srpv_id {{ .IntegerPrimaryKey }},
					srpv_source_repository_id integer NOT NULL REFERENCES source_repositories (repo_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					srpv_project_version_id integer NOT NULL REFERENCES project_versions (projectversion_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					srpv_architectures text NOT NULL DEFAULT '',
					srpv_run_lintian bool NOT NULL DEFAULT false
				);
				CREATE INDEX IF NOT EXISTS repo_project_versions_repo_index ON repo_project_versions(srpv_source_repository_id);
				CREATE INDEX IF NOT EXISTS repo_project_versions_version_index ON repo_project_versions(srpv_project_version_id);`,
		DownSQL: `DROP TABLE repo_project_versions;
				  DROP TABLE source_repositories;`,
	},
	{
		SequenceNumber: 3,
		Name:           "create_builds",
		UpSQL: `CREATE TABLE IF NOT EXISTS builds
				(
					build_id {{ .IntegerPrimaryKey }},
					build_created_at timestamp without time zone NOT NULL,
					build_started_at timestamp without time zone,
					build_built_at timestamp without time zone,
					build_ended_at timestamp without time zone,
					build_state text NOT NULL,
					build_type text NOT NULL,
					build_parent_id integer REFERENCES builds (build_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					build_source_repository_id integer REFERENCES source_repositories (repo_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					build_project_version_id integer REFERENCES project_versions (projectversion_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					build_source_name text NOT NULL DEFAULT '',
					build_version text NOT NULL DEFAULT '',
					build_maintainer text NOT NULL DEFAULT '',
					build_maintainer_email text NOT NULL DEFAULT '',
					build_git_ref text NOT NULL DEFAULT '',
					build_ci_branch text NOT NULL DEFAULT '',
					build_is_ci bool NOT NULL DEFAULT false,
					build_architecture text NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS builds_parent_id_index ON builds(build_parent_id);
				CREATE INDEX IF NOT EXISTS builds_state_index ON builds(build_state);
				CREATE INDEX IF NOT EXISTS builds_version_lookup_index ON builds(
					build_source_name,
					build_version,
					build_project_version_id);`,
		DownSQL: `DROP TABLE builds;`,
	},
	{
		SequenceNumber: 4,
		Name:           "create_chroots",
		UpSQL: `CREATE TABLE IF NOT EXISTS chroots
				(
					chroot_id {{ .IntegerPrimaryKey }},
					chroot_build_id integer NOT NULL REFERENCES builds (build_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					chroot_basemirror_id integer NOT NULL REFERENCES project_versions (projectversion_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					chroot_architecture text NOT NULL,
					chroot_ready bool NOT NULL DEFAULT false
				);
				CREATE UNIQUE INDEX IF NOT EXISTS chroots_basemirror_architecture_unique_index ON chroots(
					chroot_basemirror_id,
					chroot_architecture);`,
		DownSQL: `DROP TABLE chroots;`,
	},
	{
		SequenceNumber: 5,
		Name:           "create_build_tasks",
		UpSQL: `CREATE TABLE IF NOT EXISTS build_tasks
				(
					buildtask_id {{ .IntegerPrimaryKey }},
					buildtask_build_id integer NOT NULL REFERENCES builds (build_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					buildtask_task_id text NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS build_tasks_task_id_unique_index ON build_tasks(buildtask_task_id);
				CREATE UNIQUE INDEX IF NOT EXISTS build_tasks_build_id_unique_index ON build_tasks(buildtask_build_id);`,
		DownSQL: `DROP TABLE build_tasks;`,
	},
	{
		SequenceNumber: 6,
		Name:           "create_post_build_hooks",
		UpSQL: `CREATE TABLE IF NOT EXISTS post_build_hooks
				(
					hook_id {{ .IntegerPrimaryKey }},
					hook_srpv_id integer NOT NULL REFERENCES repo_project_versions (srpv_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					hook_method text NOT NULL DEFAULT 'POST',
					hook_url text NOT NULL,
					hook_body text NOT NULL DEFAULT '',
					hook_skip_ssl bool NOT NULL DEFAULT false,
					hook_enabled bool NOT NULL DEFAULT true,
					hook_notify_overall bool NOT NULL DEFAULT false,
					hook_notify_src bool NOT NULL DEFAULT false,
					hook_notify_deb bool NOT NULL DEFAULT true
				);
				CREATE INDEX IF NOT EXISTS post_build_hooks_srpv_index ON post_build_hooks(hook_srpv_id);`,
		DownSQL: `DROP TABLE post_build_hooks;`,
	},
	{
		SequenceNumber: 7,
		Name:           "create_metadata",
		UpSQL: `CREATE TABLE IF NOT EXISTS metadata
				(
					metadata_id {{ .IntegerPrimaryKey }},
					metadata_name text NOT NULL,
					metadata_value text NOT NULL DEFAULT ''
				);
				CREATE UNIQUE INDEX IF NOT EXISTS metadata_name_unique_index ON metadata(metadata_name);
				INSERT INTO metadata (metadata_name, metadata_value) VALUES ('maintenance_mode', 'false');
				INSERT INTO metadata (metadata_name, metadata_value) VALUES ('maintenance_message', '');`,
		DownSQL: `DROP TABLE metadata;`,
	},
}
