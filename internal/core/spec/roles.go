package spec

import "strings"

// =============================================================================
// Service Roles
// =============================================================================

// ServiceRole classifies what a service does within a plan. The role drives
// startup staging, healthcheck defaults, and persistent volume defaults.
type ServiceRole string

const (
	RoleDatabase ServiceRole = "database"
	RoleCache    ServiceRole = "cache"
	RoleQueue    ServiceRole = "queue"
	RoleProxy    ServiceRole = "proxy"
	RoleBackend  ServiceRole = "backend"
	RoleUnknown  ServiceRole = "unknown"
)

// Startup stages. Infrastructure comes up first, application code second,
// traffic ingress last.
const (
	StageInfra   = 1
	StageApp     = 2
	StageIngress = 3
)

// StageFor maps a role to its startup stage. Unknown services start with the
// application tier so that anything they depend on is already up.
func StageFor(role ServiceRole) int {
	switch role {
	case RoleDatabase, RoleCache, RoleQueue:
		return StageInfra
	case RoleProxy:
		return StageIngress
	default:
		return StageApp
	}
}

// =============================================================================
// Known Image Defaults
// =============================================================================

// imageDefaults carries everything the compiler attaches to a recognized image:
// its role, a working healthcheck, and the volumes the image needs to keep
// state across restarts.
type imageDefaults struct {
	match   string
	role    ServiceRole
	health  HealthCheckSpec
	volumes []VolumeMount
}

// knownImages is consulted in declaration order; the first entry whose match
// string appears in the normalized image name wins. Order matters: "mysql"
// must not shadow "mariadb" and vice versa, so both are listed explicitly.
var knownImages = []imageDefaults{
	{
		match: "nginx",
		role:  RoleProxy,
		health: HealthCheckSpec{
			Test:        []string{"CMD", "curl", "-f", "http://localhost/"},
			Interval:    "15s",
			Timeout:     "5s",
			Retries:     3,
			StartPeriod: "10s",
		},
		volumes: []VolumeMount{
			{Source: "nginx_config", Target: "/etc/nginx/conf.d", Named: true},
			{Source: "nginx_html", Target: "/usr/share/nginx/html", Named: true},
		},
	},
	{
		match: "redis",
		role:  RoleCache,
		health: HealthCheckSpec{
			Test:        []string{"CMD", "redis-cli", "ping"},
			Interval:    "15s",
			Timeout:     "5s",
			Retries:     3,
			StartPeriod: "10s",
		},
		volumes: []VolumeMount{
			{Source: "redis_data", Target: "/data", Named: true},
		},
	},
	{
		match: "postgres",
		role:  RoleDatabase,
		health: HealthCheckSpec{
			Test:        []string{"CMD-SHELL", "pg_isready -U ${POSTGRES_USER:-postgres}"},
			Interval:    "15s",
			Timeout:     "5s",
			Retries:     5,
			StartPeriod: "30s",
		},
		volumes: []VolumeMount{
			{Source: "postgres_data", Target: "/var/lib/postgresql/data", Named: true},
		},
	},
	{
		match: "mysql",
		role:  RoleDatabase,
		health: HealthCheckSpec{
			Test:        []string{"CMD", "mysqladmin", "ping", "-h", "localhost"},
			Interval:    "15s",
			Timeout:     "5s",
			Retries:     5,
			StartPeriod: "30s",
		},
		volumes: []VolumeMount{
			{Source: "mysql_data", Target: "/var/lib/mysql", Named: true},
		},
	},
	{
		match: "mariadb",
		role:  RoleDatabase,
		health: HealthCheckSpec{
			Test:        []string{"CMD", "healthcheck.sh", "--connect", "--innodb_initialized"},
			Interval:    "15s",
			Timeout:     "5s",
			Retries:     5,
			StartPeriod: "30s",
		},
		volumes: []VolumeMount{
			{Source: "mariadb_data", Target: "/var/lib/mysql", Named: true},
		},
	},
	{
		match: "mongo",
		role:  RoleDatabase,
		health: HealthCheckSpec{
			Test:        []string{"CMD", "mongosh", "--eval", "db.adminCommand('ping')"},
			Interval:    "15s",
			Timeout:     "5s",
			Retries:     5,
			StartPeriod: "30s",
		},
		volumes: []VolumeMount{
			{Source: "mongo_data", Target: "/data/db", Named: true},
		},
	},
	{
		match: "elasticsearch",
		role:  RoleDatabase,
		health: HealthCheckSpec{
			Test:        []string{"CMD-SHELL", "curl -f http://localhost:9200/_cluster/health || exit 1"},
			Interval:    "30s",
			Timeout:     "10s",
			Retries:     5,
			StartPeriod: "60s",
		},
		volumes: []VolumeMount{
			{Source: "es_data", Target: "/usr/share/elasticsearch/data", Named: true},
		},
	},
	{
		match: "rabbitmq",
		role:  RoleQueue,
		health: HealthCheckSpec{
			Test:        []string{"CMD", "rabbitmq-diagnostics", "-q", "ping"},
			Interval:    "30s",
			Timeout:     "10s",
			Retries:     3,
			StartPeriod: "30s",
		},
		volumes: []VolumeMount{
			{Source: "rabbitmq_data", Target: "/var/lib/rabbitmq", Named: true},
		},
	},
}

// backendPatterns mark language runtimes and frameworks: anything matching one
// of these is application code rather than infrastructure.
var backendPatterns = []string{
	"python", "node", "golang", "java", "ruby", "php",
	"flask", "django", "express", "fastapi", "spring",
	"api", "backend", "app", "server", "web",
}

// fallbackHealthCheck is attached to services whose image we cannot classify,
// so that downstream dependency conditions always have a health status to
// wait on.
var fallbackHealthCheck = HealthCheckSpec{
	Test:        []string{"CMD-SHELL", "exit 0"},
	Interval:    "30s",
	Timeout:     "10s",
	Retries:     3,
	StartPeriod: "10s",
}

// =============================================================================
// Classification
// =============================================================================

// NormalizeImage reduces an image reference to its bare repository name:
// lowercased, registry and namespace prefixes removed, tag stripped.
// "docker.io/library/Postgres:16-alpine" becomes "postgres". The slash cut
// happens before the tag cut so a registry port ("registry:5000/team/app")
// never masquerades as the repository name.
func NormalizeImage(image string) string {
	name := strings.ToLower(strings.TrimSpace(image))
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[:idx]
	}
	return name
}

// Classify determines the role of an image and returns the defaults for that
// role. Known infrastructure images match first, then backend runtime
// patterns; everything else is unknown and gets the permissive fallback
// healthcheck.
func Classify(image string) (ServiceRole, HealthCheckSpec, []VolumeMount) {
	name := NormalizeImage(image)

	for _, entry := range knownImages {
		if strings.Contains(name, entry.match) {
			return entry.role, entry.health, entry.volumes
		}
	}
	for _, pattern := range backendPatterns {
		if strings.Contains(name, pattern) {
			return RoleBackend, fallbackHealthCheck, nil
		}
	}
	return RoleUnknown, fallbackHealthCheck, nil
}
