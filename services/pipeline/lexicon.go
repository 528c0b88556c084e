package pipeline

import "github.com/tas-context-tailor/models"

// domainLexicon maps each knowledge domain to the keywords used for both
// task classification and gap coverage checks. Matching is lowercase
// substring containment.
var domainLexicon = map[models.KnowledgeDomain][]string{
	models.DomainFrontend: {
		"react", "vue", "angular", "svelte", "css", "html", "dom",
		"component", "frontend", "browser", "ui ", "jsx", "tailwind",
		"webpack", "vite",
	},
	models.DomainBackend: {
		"api", "server", "endpoint", "backend", "rest", "graphql",
		"middleware", "route", "router", "express", "django", "flask",
		"microservice", "grpc", "handler",
	},
	models.DomainDatabase: {
		"database", "sql", "postgres", "mysql", "mongodb", "redis",
		"query", "schema", "migration", "index", "transaction", "orm",
		"table",
	},
	models.DomainDevOps: {
		"docker", "kubernetes", "k8s", "deploy", "ci/cd", "pipeline",
		"terraform", "ansible", "aws", "gcp", "azure", "helm",
		"container", "infrastructure",
	},
	models.DomainSecurity: {
		"security", "auth", "authentication", "authorization", "jwt",
		"oauth", "encryption", "bcrypt", "argon2", "hash", "xss", "csrf",
		"vulnerability", "password",
	},
	models.DomainTesting: {
		"test", "testing", "jest", "pytest", "mock", "assert",
		"coverage", "unit test", "integration test", "e2e", "tdd",
	},
	models.DomainDesign: {
		"design", "ux", "ui design", "wireframe", "figma", "prototype",
		"accessibility", "usability", "layout",
	},
	models.DomainArchitecture: {
		"architecture", "scalab", "pattern", "monolith", "event-driven",
		"message queue", "cqrs", "distributed", "system design",
		"load balanc",
	},
	models.DomainDocumentation: {
		"documentation", "readme", "docs", "api reference", "changelog",
		"tutorial", "guide",
	},
	models.DomainBusiness: {
		"revenue", "customer", "market", "pricing", "roadmap",
		"stakeholder", "kpi", "metric", "business",
	},
	models.DomainDataScience: {
		"machine learning", "model", "dataset", "pandas", "numpy",
		"training", "neural", "llm", "embedding", "classification",
		"regression", "analytics",
	},
}

// codeIndicators mark text that carries code or command examples.
var codeIndicators = []string{
	"```", "def ", "func ", "function ", "class ", "import ", "const ",
	"var ", "let ", "return ", "$ ", "npm ", "pip ", "go run", "curl ",
	"=>", "();",
}
