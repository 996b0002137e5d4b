package job

import "strconv"

// Identity variable names and their defaults.
var userDefaults = map[string]string{
	"GITLAB_USER_LOGIN": "local",
	"GITLAB_USER_EMAIL": "local@gitlab.com",
	"GITLAB_USER_NAME":  "Bob Local",
}

const projectURL = "https://gitlab.com/group/sub/local-project"

// predefinedVariables returns the runtime variables every job sees. They
// take precedence over user-declared variables of the same name.
func predefinedVariables(name, stage string, jobID, pipelineIID int, user map[string]string) map[string]string {
	jid := strconv.Itoa(jobID)
	vars := map[string]string{
		"CI_COMMIT_SHORT_SHA":     "a33bd89c",
		"CI_COMMIT_SHA":           "a33bd89c7b8fa3567524525308d8cafd7c0cd2ad",
		"CI_PROJECT_NAME":         "local-project",
		"CI_PROJECT_TITLE":        "LocalProject",
		"CI_PROJECT_PATH_SLUG":    "group/sub/local-project",
		"CI_PROJECT_NAMESPACE":    "group/sub/LocalProject",
		"CI_COMMIT_REF_PROTECTED": "false",
		"CI_COMMIT_BRANCH":        "local/branch",
		"CI_COMMIT_REF_NAME":      "local/branch",
		"CI_PROJECT_VISIBILITY":   "internal",
		"CI_PROJECT_ID":           "1217",
		"CI_COMMIT_REF_SLUG":      "local-branch",
		"CI_COMMIT_TITLE":         "Commit Title",
		"CI_COMMIT_MESSAGE":       "Commit Title\nMore commit text",
		"CI_COMMIT_DESCRIPTION":   "More commit text",
		"CI_PIPELINE_SOURCE":      "push",
		"CI_JOB_ID":               jid,
		"CI_PIPELINE_ID":          strconv.Itoa(pipelineIID + 1000),
		"CI_PIPELINE_IID":         strconv.Itoa(pipelineIID),
		"CI_SERVER_URL":           "https://gitlab.com",
		"CI_PROJECT_URL":          projectURL,
		"CI_JOB_URL":              projectURL + "/-/jobs/" + jid,
		"CI_PIPELINE_URL":         "https://gitlab.cego.dk/group/sub/local-project/pipelines/" + strconv.Itoa(pipelineIID),
		"CI_JOB_NAME":             name,
		"CI_JOB_STAGE":            stage,
		"GITLAB_CI":               "false",
	}
	for k, def := range userDefaults {
		if v := user[k]; v != "" {
			vars[k] = v
		} else {
			vars[k] = def
		}
	}
	return vars
}
