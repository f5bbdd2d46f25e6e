// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package hierdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, []string{"root", "eu", "fr"}, SplitPath("root.eu.fr"))
	assert.Nil(t, SplitPath(""))

	assert.EqualValues(t, 3, PathDepth("root.eu.fr"))
	assert.EqualValues(t, 1, PathDepth("root"))
	assert.EqualValues(t, 0, PathDepth(""))

	assert.Equal(t, "root.eu", ParentPath("root.eu.fr"))
	assert.Equal(t, "", ParentPath("root"))

	assert.Equal(t, "fr", LastSegment("root.eu.fr"))
	assert.Equal(t, "root", LastSegment("root"))

	assert.Equal(t, "root.eu", ChildPath("root", "eu"))
	assert.Equal(t, "root", ChildPath("", "root"))
}

func TestPathPrefixes(t *testing.T) {
	assert.Equal(t, []string{"root", "root.eu", "root.eu.fr"}, PathPrefixes("root.eu.fr"))
	assert.Equal(t, []string{"root"}, PathPrefixes("root"))
	assert.Nil(t, PathPrefixes(""))
}

func TestComputePathHash_Deterministic(t *testing.T) {
	assert.Equal(t, ComputePathHash("root.eu"), ComputePathHash("root.eu"))
	assert.NotEqual(t, ComputePathHash("root.eu"), ComputePathHash("root.us"))
}

func TestValidSegment(t *testing.T) {
	assert.True(t, ValidSegment("france"))
	assert.True(t, ValidSegment("org-42"))
	assert.False(t, ValidSegment(""))
	assert.False(t, ValidSegment("has.dot"))
	assert.False(t, ValidSegment("has space"))
	assert.False(t, ValidSegment("has\ttab"))
}

func TestValidatePath(t *testing.T) {
	require.NoError(t, ValidatePath("root.eu.fr"))
	assert.Error(t, ValidatePath(""))
	assert.Error(t, ValidatePath("root..fr"), "empty middle segment")
	assert.Error(t, ValidatePath("root.bad segment"))
}

func TestValidateChild(t *testing.T) {
	require.NoError(t, ValidateChild("root.eu", 2, "root", 1))
	require.NoError(t, ValidateChild("root", 1, "", 0))

	assert.Error(t, ValidateChild("root.eu.fr", 3, "root", 1), "skipped a level")
	assert.Error(t, ValidateChild("root.eu", 3, "root", 1), "depth does not follow parent")
	assert.Error(t, ValidateChild("root.eu", 2, "other", 1), "wrong parent path")
}
