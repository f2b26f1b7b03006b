// Copyright (C) 2024 flowcore authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package zset

// Weight is a signed 64-bit ring element: zero is the additive identity,
// and every weight has an additive inverse. A (key, value) pair whose
// weight is zero is semantically absent, though it may physically survive
// inside a trace (RecedeTo leaves zero-weight results in place); a
// Builder's Done, and so every merge, drops it.
type Weight int64

// IsZero reports whether w is the ring's additive identity.
func (w Weight) IsZero() bool { return w == 0 }

// Neg returns the additive inverse of w. Negating every weight in a batch
// turns an insertion stream into the matching retraction stream.
func (w Weight) Neg() Weight { return -w }

// Add returns w + other.
func (w Weight) Add(other Weight) Weight { return w + other }
