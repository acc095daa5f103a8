package rgb9e5ktx_test

import _ "github.com/bool64/dev" // Include CI/Dev scripts to project.
